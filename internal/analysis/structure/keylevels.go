package structure

import (
	"math"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/indicators"
	"pattern-tracker/internal/models"
)

// KeyLevelConfig holds key level parameters.
type KeyLevelConfig struct {
	Lookback        int     // bars searched for Buy-Low / Sell-High pivots
	SMAPeriod       int     // long moving average for Buy-The-Dip
	DipProximityPct float64 // max distance of close from the average, percent
}

// DefaultKeyLevelConfig returns the default key level configuration.
func DefaultKeyLevelConfig() KeyLevelConfig {
	return KeyLevelConfig{Lookback: 50, SMAPeriod: 200, DipProximityPct: 5}
}

// KeyLevelInput bundles what the generator needs for one cycle.
type KeyLevelInput struct {
	Candles   []models.Candle
	Pivots    PivotSet
	Long      []models.Candle // longer-horizon series for the moving average, optional
	Session   *models.SessionLevels
	Timeframe models.Timeframe
}

// KeyLevelsGenerator derives canonical trading reference prices.
type KeyLevelsGenerator struct {
	cfg KeyLevelConfig
}

// NewKeyLevelsGenerator creates a new key level generator.
func NewKeyLevelsGenerator(cfg KeyLevelConfig) *KeyLevelsGenerator {
	return &KeyLevelsGenerator{cfg: cfg}
}

// Generate returns every key level whose inputs are available. Missing data omits a level.
func (g *KeyLevelsGenerator) Generate(in KeyLevelInput) []analysis.KeyLevel {
	n := len(in.Candles)
	if n == 0 {
		return nil
	}
	last := in.Candles[n-1]
	start := in.Candles[0].Timestamp
	if g.cfg.Lookback > 0 && n > g.cfg.Lookback {
		start = in.Candles[n-g.cfg.Lookback].Timestamp
	}
	level := func(kind analysis.KeyLevelKind, price float64, label, style string) analysis.KeyLevel {
		return analysis.KeyLevel{Kind: kind, Price: price, Label: label, Style: style, StartTime: start, EndTime: last.Timestamp}
	}

	var out []analysis.KeyLevel
	minIndex := n - g.cfg.Lookback

	if p, ok := mostRecent(in.Pivots.Lows, minIndex, func(price float64) bool { return price < last.Close }); ok {
		out = append(out, level(analysis.KeyLevelBuyLow, p.Price, "Buy Low", "solid"))
	}
	if p, ok := mostRecent(in.Pivots.Highs, minIndex, func(price float64) bool { return price > last.Close }); ok {
		out = append(out, level(analysis.KeyLevelSellHigh, p.Price, "Sell High", "solid"))
	}

	long := in.Long
	if len(long) == 0 {
		long = in.Candles
	}
	if sma, ok := indicators.SMALast(long, g.cfg.SMAPeriod); ok && sma > 0 {
		if math.Abs(last.Close-sma)/sma*100 <= g.cfg.DipProximityPct {
			out = append(out, level(analysis.KeyLevelBuyTheDip, sma, "Buy The Dip", "dotted"))
		}
	}

	if in.Session != nil && in.Timeframe.IsIntraday() {
		if in.Session.PriorHigh != nil {
			out = append(out, level(analysis.KeyLevelPriorHigh, *in.Session.PriorHigh, "Prior High", "dashed"))
		}
		if in.Session.PriorLow != nil {
			out = append(out, level(analysis.KeyLevelPriorLow, *in.Session.PriorLow, "Prior Low", "dashed"))
		}
	}
	return out
}

func mostRecent(pivots []analysis.PivotPoint, minIndex int, qualifies func(float64) bool) (analysis.PivotPoint, bool) {
	for i := len(pivots) - 1; i >= 0; i-- {
		p := pivots[i]
		if p.Index < minIndex {
			break
		}
		if qualifies(p.Price) {
			return p, true
		}
	}
	return analysis.PivotPoint{}, false
}
