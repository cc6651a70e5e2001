package patterns

import (
	"math"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/indicators"
	"pattern-tracker/internal/models"
)

// GapDetector classifies price gaps by their size relative to ATR and the move that preceded them.
type GapDetector struct {
	atrPeriod       int
	minGapATR       float64 // gap must be at least this many ATRs
	priorMoveBars   int
	lookback        int     // trailing bars scanned for gaps
	runawayMovePct  float64 // prior move at or above this in the gap's direction is a runaway
	exhaustMovePct  float64 // prior move at or above this in the gap's direction is an exhaustion
	minContinuity   float64 // fraction of prior bars closing in the gap's direction
	breakawayMaxPct float64 // prior move below this in the gap's direction allows a breakaway
}

// NewGapDetector creates a gap detector.
func NewGapDetector() *GapDetector {
	return &GapDetector{
		atrPeriod:       14,
		minGapATR:       0.5,
		priorMoveBars:   10,
		lookback:        20,
		runawayMovePct:  3.0,
		exhaustMovePct:  10.0,
		minContinuity:   0.6,
		breakawayMaxPct: 1.5,
	}
}

func (d *GapDetector) Name() string {
	return "GapDetector"
}

func (d *GapDetector) Category() analysis.Category {
	return analysis.CategoryGap
}

// Detect scans the trailing window for unfilled gaps and classifies each.
func (d *GapDetector) Detect(candles []models.Candle) ([]analysis.Pattern, error) {
	n := len(candles)
	if n < d.priorMoveBars+2 {
		return nil, nil
	}

	atr := indicators.ATR(candles, d.atrPeriod)
	from := d.priorMoveBars + 1
	if n-d.lookback > from {
		from = n - d.lookback
	}

	var patterns []analysis.Pattern
	for i := from; i < n; i++ {
		if p := d.classify(candles, atr, i); p != nil {
			patterns = append(patterns, *p)
		}
	}
	return patterns, nil
}

func (d *GapDetector) classify(candles []models.Candle, atr []float64, i int) *analysis.Pattern {
	prev, curr := candles[i-1], candles[i]
	var size float64
	up := false
	switch {
	case curr.Low > prev.High:
		size, up = curr.Low-prev.High, true
	case curr.High < prev.Low:
		size = prev.Low - curr.High
	default:
		return nil
	}

	unit := indicators.ATRAt(candles, atr, i-1)
	if unit <= 0 || size < unit*d.minGapATR {
		return nil
	}

	// Prior move measured in the gap's direction.
	base := candles[i-1-d.priorMoveBars].Close
	if base <= 0 {
		return nil
	}
	move := indicators.PercentChange(base, prev.Close)
	continuity := d.continuity(candles, i-1, up)
	if !up {
		move = -move
	}

	filled := false
	for j := i + 1; j < len(candles); j++ {
		if (up && candles[j].Low <= prev.High) || (!up && candles[j].High >= prev.Low) {
			filled = true
			break
		}
	}

	var p analysis.Pattern
	switch {
	case move >= d.exhaustMovePct:
		if up {
			p = newPattern(candles, analysis.ExhaustionGap, i-1, i, 68, analysis.SignalBearish, analysis.BiasBearish)
		} else {
			p = newPattern(candles, analysis.ExhaustionGap, i-1, i, 68, analysis.SignalBullish, analysis.BiasBullish)
		}
		p.Action = analysis.ActionTakeProfit
		p.Description = "Late gap after an extended move, often near its end"
		if filled {
			p.Confidence += 5
		}
	case filled:
		return nil
	case move >= d.runawayMovePct && continuity >= d.minContinuity:
		bias := analysis.BiasBearish
		if up {
			bias = analysis.BiasBullish
		}
		p = newPattern(candles, analysis.RunawayGap, i-1, i, 70, analysis.SignalContinuation, bias)
		p.Action = analysis.ActionHold
		p.Description = "Gap in the middle of an established move"
	case move < d.breakawayMaxPct:
		if up {
			p = newPattern(candles, analysis.BreakawayGap, i-1, i, 75, analysis.SignalBullish, analysis.BiasBullish)
			p.Action = analysis.ActionEnterLong
		} else {
			p = newPattern(candles, analysis.BreakawayGap, i-1, i, 75, analysis.SignalBearish, analysis.BiasBearish)
			p.Action = analysis.ActionEnterShort
		}
		if size < unit {
			p.Action = analysis.ActionWaitForConfirmation
		}
		p.Description = "Gap out of a range starting a new move"
	default:
		return nil
	}

	if up {
		p.Support = analysis.Price(prev.High)
		p.StopLoss = analysis.Price(prev.High)
	} else {
		p.Resistance = analysis.Price(prev.Low)
		p.StopLoss = analysis.Price(prev.Low)
	}
	p.Metadata["gap_size"] = size
	p.Metadata["gap_atr"] = size / unit
	p.Metadata["prior_move_pct"] = move
	p.Metadata["filled"] = filled
	return &p
}

// continuity returns the fraction of the prior bars that closed in the gap's direction.
func (d *GapDetector) continuity(candles []models.Candle, end int, up bool) float64 {
	count := 0
	for j := end - d.priorMoveBars + 1; j <= end; j++ {
		diff := candles[j].Close - candles[j-1].Close
		if (up && diff > 0) || (!up && diff < 0) {
			count++
		}
	}
	return float64(count) / float64(d.priorMoveBars)
}

// BreakoutDetector finds crossings of percentile-clustered support and resistance.
type BreakoutDetector struct {
	window             int     // bars used to estimate the levels
	minBars            int
	upperPercentile    float64 // percentile of highs treated as resistance
	lowerPercentile    float64 // percentile of lows treated as support
	volumeLookback     int
	volumeConfirmRatio float64 // volume ratio required to confirm a crossing
	touchPct           float64 // distance from a level counted as a test
}

// NewBreakoutDetector creates a breakout detector that requires volume above volumeConfirmRatio times average.
func NewBreakoutDetector(volumeConfirmRatio float64) *BreakoutDetector {
	if volumeConfirmRatio <= 0 {
		volumeConfirmRatio = 1.5
	}
	return &BreakoutDetector{
		window:             50,
		minBars:            21,
		upperPercentile:    90,
		lowerPercentile:    10,
		volumeLookback:     20,
		volumeConfirmRatio: volumeConfirmRatio,
		touchPct:           0.5,
	}
}

func (d *BreakoutDetector) Name() string {
	return "BreakoutDetector"
}

func (d *BreakoutDetector) Category() analysis.Category {
	return analysis.CategoryBreakout
}

// Levels returns the resistance and support estimated from the bars before the last one.
func (d *BreakoutDetector) Levels(candles []models.Candle) (support, resistance float64, ok bool) {
	n := len(candles)
	if n < d.minBars {
		return 0, 0, false
	}
	start := n - 1 - d.window
	if start < 0 {
		start = 0
	}
	ref := candles[start : n-1]
	return indicators.Percentile(models.Lows(ref), d.lowerPercentile),
		indicators.Percentile(models.Highs(ref), d.upperPercentile), true
}

// Detect checks the last bar against the levels. Breakouts and breakdowns need volume confirmation.
func (d *BreakoutDetector) Detect(candles []models.Candle) ([]analysis.Pattern, error) {
	support, resistance, ok := d.Levels(candles)
	if !ok || resistance <= support {
		return nil, nil
	}

	n := len(candles)
	i := n - 1
	last, prev := candles[i], candles[i-1]
	ratio := indicators.VolumeRatio(candles, i, d.volumeLookback)
	confirmed := ratio > d.volumeConfirmRatio
	height := resistance - support
	near := func(price, level float64) bool {
		return math.Abs(price-level)/level*100 <= d.touchPct
	}

	var p analysis.Pattern
	switch {
	case last.Close > resistance && prev.Close <= resistance && confirmed:
		p = newPattern(candles, analysis.ResistanceBreakout, i-1, i, 78, analysis.SignalBullish, analysis.BiasBullish)
		p.Action = analysis.ActionEnterLong
		p.StopLoss = analysis.Price(resistance - height*0.25)
		p.Target = analysis.Price(resistance + height)
		p.Description = "Close above clustered resistance on expanding volume"
	case last.Close < support && prev.Close >= support && confirmed:
		p = newPattern(candles, analysis.SupportBreakdown, i-1, i, 78, analysis.SignalBearish, analysis.BiasBearish)
		p.Action = analysis.ActionEnterShort
		p.StopLoss = analysis.Price(support + height*0.25)
		p.Target = analysis.PositivePrice(support - height)
		p.Description = "Close below clustered support on expanding volume"
	case (last.Low <= support || near(last.Low, support)) && last.Close > support && last.IsBullish():
		p = newPattern(candles, analysis.SupportBounce, i, i, 68, analysis.SignalBullish, analysis.BiasBullish)
		p.Action = analysis.ActionWaitForConfirmation
		p.StopLoss = analysis.Price(math.Min(last.Low, support))
		p.Target = analysis.Price(resistance)
		p.Description = "Rejection of clustered support"
	case (last.High >= resistance || near(last.High, resistance)) && last.Close < resistance && last.IsBearish():
		p = newPattern(candles, analysis.ResistanceRejection, i, i, 68, analysis.SignalBearish, analysis.BiasBearish)
		p.Action = analysis.ActionWaitForConfirmation
		p.StopLoss = analysis.Price(math.Max(last.High, resistance))
		p.Target = analysis.Price(support)
		p.Description = "Rejection of clustered resistance"
	default:
		return nil, nil
	}

	p.Support = analysis.Price(support)
	p.Resistance = analysis.Price(resistance)
	p.Metadata["volume_ratio"] = ratio
	p.Metadata["volume_confirmed"] = confirmed
	return []analysis.Pattern{p}, nil
}
