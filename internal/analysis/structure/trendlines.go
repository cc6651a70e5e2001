package structure

import (
	"math"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/indicators"
	"pattern-tracker/internal/models"
)

// maxTrendlinePivots bounds the candidate search to the most recent pivots.
const maxTrendlinePivots = 40

// TrendlineConfig holds trendline fitting parameters.
type TrendlineConfig struct {
	TolerancePct float64
	MinTouches   int
}

// DefaultTrendlineConfig returns trendline parameters for a timeframe profile.
func DefaultTrendlineConfig(p models.Profile) TrendlineConfig {
	return TrendlineConfig{TolerancePct: p.TolerancePct, MinTouches: p.MinTouches}
}

// TrendlineBuilder fits maximal-touch lines through same-type pivots.
type TrendlineBuilder struct {
	cfg TrendlineConfig
}

// NewTrendlineBuilder creates a new trendline builder.
func NewTrendlineBuilder(cfg TrendlineConfig) *TrendlineBuilder {
	if cfg.MinTouches < 2 {
		cfg.MinTouches = 2
	}
	if cfg.TolerancePct <= 0 {
		cfg.TolerancePct = 0.5
	}
	return &TrendlineBuilder{cfg: cfg}
}

type lineFit struct {
	slope, intercept float64
	touching         []int // positions in the pivot slice
}

// Build returns the line touching the most pivots within tolerance, extended to the last candle.
// Ties go to the line that starts earliest. It returns nil when no line reaches MinTouches.
func (b *TrendlineBuilder) Build(pivots []analysis.PivotPoint, candles []models.Candle, kind analysis.LevelType) *analysis.Trendline {
	if len(pivots) > maxTrendlinePivots {
		pivots = pivots[len(pivots)-maxTrendlinePivots:]
	}
	if len(pivots) < b.cfg.MinTouches || len(candles) == 0 {
		return nil
	}

	var best *lineFit
	for i := 0; i < len(pivots)-1; i++ {
		for j := i + 1; j < len(pivots); j++ {
			dx := float64(pivots[j].Index - pivots[i].Index)
			if dx == 0 {
				continue
			}
			slope := (pivots[j].Price - pivots[i].Price) / dx
			intercept := pivots[i].Price - slope*float64(pivots[i].Index)
			fit := b.refit(pivots, b.touching(pivots, slope, intercept), slope, intercept)
			if len(fit.touching) < b.cfg.MinTouches {
				continue
			}
			if best == nil || better(fit, *best, pivots) {
				f := fit
				best = &f
			}
		}
	}
	if best == nil {
		return nil
	}

	first := pivots[best.touching[0]]
	last := len(candles) - 1
	line := &analysis.Trendline{
		Kind:      kind,
		Slope:     best.slope,
		Intercept: best.intercept,
		Touches:   len(best.touching),
		Style:     "solid",
	}
	line.Start = analysis.LinePoint{Index: first.Index, Price: line.PriceAt(first.Index), Time: first.Timestamp}
	line.End = analysis.LinePoint{Index: last, Price: line.PriceAt(last), Time: candles[last].Timestamp}
	if kind == analysis.LevelSupport {
		line.Label = "Support trendline"
	} else {
		line.Label = "Resistance trendline"
		line.Style = "dashed"
	}
	return line
}

// BuildAll fits one support line through lows and one resistance line through highs.
func (b *TrendlineBuilder) BuildAll(set PivotSet, candles []models.Candle) []analysis.Trendline {
	var out []analysis.Trendline
	if l := b.Build(set.Lows, candles, analysis.LevelSupport); l != nil {
		out = append(out, *l)
	}
	if l := b.Build(set.Highs, candles, analysis.LevelResistance); l != nil {
		out = append(out, *l)
	}
	return out
}

func (b *TrendlineBuilder) touching(pivots []analysis.PivotPoint, slope, intercept float64) []int {
	var idx []int
	for k, p := range pivots {
		expected := slope*float64(p.Index) + intercept
		if expected <= 0 {
			continue
		}
		if math.Abs(p.Price-expected)/expected*100 <= b.cfg.TolerancePct {
			idx = append(idx, k)
		}
	}
	return idx
}

// refit runs least squares over the touching pivots and keeps the refit when it touches at least as many.
func (b *TrendlineBuilder) refit(pivots []analysis.PivotPoint, touching []int, slope, intercept float64) lineFit {
	base := lineFit{slope: slope, intercept: intercept, touching: touching}
	if len(touching) < 2 {
		return base
	}
	xs := make([]float64, len(touching))
	ys := make([]float64, len(touching))
	for k, idx := range touching {
		xs[k] = float64(pivots[idx].Index)
		ys[k] = pivots[idx].Price
	}
	s, c := indicators.LinearFit(xs, ys)
	refit := b.touching(pivots, s, c)
	if len(refit) >= len(touching) {
		return lineFit{slope: s, intercept: c, touching: refit}
	}
	return base
}

func better(a, b lineFit, pivots []analysis.PivotPoint) bool {
	if len(a.touching) != len(b.touching) {
		return len(a.touching) > len(b.touching)
	}
	return pivots[a.touching[0]].Index < pivots[b.touching[0]].Index
}
