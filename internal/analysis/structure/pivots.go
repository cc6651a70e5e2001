// Package structure finds market structure: pivots, trendlines, horizontal levels and key levels.
package structure

import (
	"math"
	"sort"
	"time"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/indicators"
	"pattern-tracker/internal/models"
)

// PivotConfig holds pivot detection parameters.
type PivotConfig struct {
	LeftBars        int
	RightBars       int
	MinSpacingFloor int     // minimum bars between same-type pivots
	SpacingPct      float64 // spacing as a fraction of series length, when larger than the floor
	MinMovePct      float64 // minimum percent move between consecutive opposite pivots
	TrendThreshold  float64 // fitted percent change across the series that counts as a trend
	TrendFilter     bool
	MultiTimeframe  bool
	CoarseFactor    int
	MinCoarseBars   int
}

// DefaultPivotConfig returns pivot parameters for a timeframe profile.
func DefaultPivotConfig(p models.Profile) PivotConfig {
	return PivotConfig{
		LeftBars:        p.PivotWindow,
		RightBars:       p.PivotWindow,
		MinSpacingFloor: 3,
		SpacingPct:      0.05,
		MinMovePct:      1.0,
		TrendThreshold:  3.0,
		TrendFilter:     true,
		MultiTimeframe:  true,
		CoarseFactor:    4,
		MinCoarseBars:   20,
	}
}

// PivotSet holds the two ordered pivot lists of a series.
type PivotSet struct {
	Highs []analysis.PivotPoint `json:"highs"`
	Lows  []analysis.PivotPoint `json:"lows"`
}

// PivotDetector finds structural swing highs and lows.
type PivotDetector struct {
	cfg PivotConfig
}

// NewPivotDetector creates a new pivot detector.
func NewPivotDetector(cfg PivotConfig) *PivotDetector {
	if cfg.LeftBars < 1 {
		cfg.LeftBars = 1
	}
	if cfg.RightBars < 1 {
		cfg.RightBars = 1
	}
	if cfg.CoarseFactor < 2 {
		cfg.CoarseFactor = 2
	}
	return &PivotDetector{cfg: cfg}
}

// Detect finds pivots in candles. In multi-timeframe mode the series is resampled to a coarser
// interval first, and each coarse pivot is mapped back to the extreme fine bar around it.
func (d *PivotDetector) Detect(candles []models.Candle, interval time.Duration) PivotSet {
	if d.cfg.MultiTimeframe {
		if set, ok := d.detectMultiTimeframe(candles, interval); ok {
			return set
		}
	}
	return d.DetectSeries(models.Highs(candles), models.Lows(candles), models.Timestamps(candles))
}

// DetectSeries runs single-timeframe detection over parallel high/low/time slices.
func (d *PivotDetector) DetectSeries(high, low []float64, ts []time.Time) PivotSet {
	n := len(high)
	if n == 0 || len(low) != n || len(ts) != n {
		return PivotSet{}
	}

	var highs, lows []analysis.PivotPoint
	for i := d.cfg.LeftBars; i < n-d.cfg.RightBars; i++ {
		if d.isPivotHigh(high, i) {
			highs = append(highs, analysis.PivotPoint{Index: i, Price: high[i], IsHigh: true, Timestamp: ts[i]})
		}
		if d.isPivotLow(low, i) {
			lows = append(lows, analysis.PivotPoint{Index: i, Price: low[i], IsHigh: false, Timestamp: ts[i]})
		}
	}

	return d.filter(highs, lows, high, low)
}

func (d *PivotDetector) isPivotHigh(high []float64, i int) bool {
	for j := i - d.cfg.LeftBars; j <= i+d.cfg.RightBars; j++ {
		if j != i && high[j] > high[i] {
			return false
		}
	}
	return true
}

func (d *PivotDetector) isPivotLow(low []float64, i int) bool {
	for j := i - d.cfg.LeftBars; j <= i+d.cfg.RightBars; j++ {
		if j != i && low[j] < low[i] {
			return false
		}
	}
	return true
}

// filter applies spacing, minimum move and trend structure in that order.
func (d *PivotDetector) filter(highs, lows []analysis.PivotPoint, high, low []float64) PivotSet {
	spacing := d.minSpacing(len(high))
	highs = enforceSpacing(highs, spacing)
	lows = enforceSpacing(lows, spacing)

	highs, lows = d.enforceMinMove(highs, lows)

	if d.cfg.TrendFilter {
		switch detectTrend(high, low, d.cfg.TrendThreshold) {
		case trendUp:
			lows = keepStrictlyRising(lows)
		case trendDown:
			highs = keepStrictlyFalling(highs)
		}
	}
	return PivotSet{Highs: highs, Lows: lows}
}

func (d *PivotDetector) minSpacing(n int) int {
	spacing := int(math.Ceil(d.cfg.SpacingPct * float64(n)))
	if spacing < d.cfg.MinSpacingFloor {
		spacing = d.cfg.MinSpacingFloor
	}
	return spacing
}

// enforceSpacing keeps the more extreme pivot when two fall closer than spacing bars.
// Equal prices keep the earlier pivot, which also collapses adjacent equal-price plateaus.
func enforceSpacing(pivots []analysis.PivotPoint, spacing int) []analysis.PivotPoint {
	var kept []analysis.PivotPoint
	for _, p := range pivots {
		if len(kept) == 0 {
			kept = append(kept, p)
			continue
		}
		last := &kept[len(kept)-1]
		if p.Index-last.Index >= spacing {
			kept = append(kept, p)
			continue
		}
		if moreExtreme(p, *last) {
			*last = p
		}
	}
	return kept
}

func moreExtreme(a, b analysis.PivotPoint) bool {
	if a.IsHigh {
		return a.Price > b.Price
	}
	return a.Price < b.Price
}

// enforceMinMove walks highs and lows in bar order. Consecutive same-type pivots keep the more
// extreme one; an opposite pivot closer than MinMovePct to the previous one is dropped.
func (d *PivotDetector) enforceMinMove(highs, lows []analysis.PivotPoint) ([]analysis.PivotPoint, []analysis.PivotPoint) {
	merged := make([]analysis.PivotPoint, 0, len(highs)+len(lows))
	merged = append(merged, highs...)
	merged = append(merged, lows...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Index != merged[j].Index {
			return merged[i].Index < merged[j].Index
		}
		return merged[i].IsHigh && !merged[j].IsHigh
	})

	var seq []analysis.PivotPoint
	for _, p := range merged {
		if len(seq) == 0 {
			seq = append(seq, p)
			continue
		}
		last := &seq[len(seq)-1]
		if p.IsHigh == last.IsHigh {
			if moreExtreme(p, *last) {
				*last = p
			}
			continue
		}
		if last.Price > 0 && math.Abs(p.Price-last.Price)/last.Price*100 < d.cfg.MinMovePct {
			continue
		}
		seq = append(seq, p)
	}

	var outHighs, outLows []analysis.PivotPoint
	for _, p := range seq {
		if p.IsHigh {
			outHighs = append(outHighs, p)
		} else {
			outLows = append(outLows, p)
		}
	}
	return outHighs, outLows
}

type trend int

const (
	trendNone trend = iota
	trendUp
	trendDown
)

// detectTrend fits a line through bar midpoints and compares the fitted change to threshold percent.
func detectTrend(high, low []float64, threshold float64) trend {
	n := len(high)
	if n < 2 {
		return trendNone
	}
	mids := make([]float64, n)
	for i := range high {
		mids[i] = (high[i] + low[i]) / 2
	}
	mean := indicators.Mean(mids)
	if mean <= 0 {
		return trendNone
	}
	change := indicators.SeriesSlope(mids) * float64(n-1) / mean * 100
	switch {
	case change > threshold:
		return trendUp
	case change < -threshold:
		return trendDown
	}
	return trendNone
}

func keepStrictlyRising(lows []analysis.PivotPoint) []analysis.PivotPoint {
	var kept []analysis.PivotPoint
	for _, p := range lows {
		if len(kept) == 0 || p.Price > kept[len(kept)-1].Price {
			kept = append(kept, p)
		}
	}
	return kept
}

func keepStrictlyFalling(highs []analysis.PivotPoint) []analysis.PivotPoint {
	var kept []analysis.PivotPoint
	for _, p := range highs {
		if len(kept) == 0 || p.Price < kept[len(kept)-1].Price {
			kept = append(kept, p)
		}
	}
	return kept
}

// bucket is one coarse bar and the fine bars it covers.
type bucket struct {
	start      time.Time
	high, low  float64
	first, end int // fine index range [first, end)
}

func (d *PivotDetector) detectMultiTimeframe(candles []models.Candle, interval time.Duration) (PivotSet, bool) {
	if interval <= 0 {
		interval = inferInterval(candles)
	}
	if interval <= 0 {
		return PivotSet{}, false
	}
	width := interval * time.Duration(d.cfg.CoarseFactor)
	buckets := resample(candles, width)
	if len(buckets) < d.cfg.MinCoarseBars {
		return PivotSet{}, false
	}

	high := make([]float64, len(buckets))
	low := make([]float64, len(buckets))
	ts := make([]time.Time, len(buckets))
	for i, b := range buckets {
		high[i], low[i], ts[i] = b.high, b.low, b.start
	}
	coarse := d.DetectSeries(high, low, ts)

	var highs, lows []analysis.PivotPoint
	for _, p := range coarse.Highs {
		if fp, ok := mapToFine(candles, buckets[p.Index], width, true); ok {
			highs = append(highs, fp)
		}
	}
	for _, p := range coarse.Lows {
		if fp, ok := mapToFine(candles, buckets[p.Index], width, false); ok {
			lows = append(lows, fp)
		}
	}
	byIndex := func(ps []analysis.PivotPoint) {
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Index < ps[j].Index })
	}
	byIndex(highs)
	byIndex(lows)
	return d.filter(highs, lows, models.Highs(candles), models.Lows(candles)), true
}

func resample(candles []models.Candle, width time.Duration) []bucket {
	var out []bucket
	for i, c := range candles {
		start := c.Timestamp.Truncate(width)
		if len(out) == 0 || !out[len(out)-1].start.Equal(start) {
			out = append(out, bucket{start: start, high: c.High, low: c.Low, first: i, end: i + 1})
			continue
		}
		b := &out[len(out)-1]
		b.high = math.Max(b.high, c.High)
		b.low = math.Min(b.low, c.Low)
		b.end = i + 1
	}
	return out
}

// mapToFine picks the extreme fine bar within half a coarse bar either side of the bucket.
func mapToFine(candles []models.Candle, b bucket, width time.Duration, isHigh bool) (analysis.PivotPoint, bool) {
	from := b.start.Add(-width / 2)
	to := b.start.Add(width + width/2)
	best := -1
	for i := range candles {
		t := candles[i].Timestamp
		if t.Before(from) || !t.Before(to) {
			continue
		}
		if best < 0 ||
			(isHigh && candles[i].High > candles[best].High) ||
			(!isHigh && candles[i].Low < candles[best].Low) {
			best = i
		}
	}
	if best < 0 {
		return analysis.PivotPoint{}, false
	}
	price := candles[best].Low
	if isHigh {
		price = candles[best].High
	}
	return analysis.PivotPoint{Index: best, Price: price, IsHigh: isHigh, Timestamp: candles[best].Timestamp}, true
}

// inferInterval returns the smallest gap between consecutive bars.
func inferInterval(candles []models.Candle) time.Duration {
	var best time.Duration
	for i := 1; i < len(candles); i++ {
		d := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if d > 0 && (best == 0 || d < best) {
			best = d
		}
	}
	return best
}
