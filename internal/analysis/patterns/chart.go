package patterns

import (
	"math"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/indicators"
	"pattern-tracker/internal/models"
)

// ChartPatternDetector detects geometric formations from swing points and fitted boundary lines.
type ChartPatternDetector struct {
	minPatternBars   int     // minimum bars for reversal formations
	minTriangleBars  int     // minimum bars for converging or parallel boundary formations
	maxPatternBars   int     // trailing window searched
	tolerancePercent float64 // tolerance for level matching
	minSwingStrength int     // bars on each side confirming a swing
	flatSlopePct     float64 // normalised slope, percent per bar, treated as horizontal
	parallelSlopePct float64 // max slope difference for parallel boundaries
}

// NewChartPatternDetector creates a new chart pattern detector.
func NewChartPatternDetector() *ChartPatternDetector {
	return &ChartPatternDetector{
		minPatternBars:   15,
		minTriangleBars:  25,
		maxPatternBars:   120,
		tolerancePercent: 0.02,
		minSwingStrength: 3,
		flatSlopePct:     0.03,
		parallelSlopePct: 0.03,
	}
}

func (d *ChartPatternDetector) Name() string {
	return "ChartPatternDetector"
}

func (d *ChartPatternDetector) Category() analysis.Category {
	return analysis.CategoryChart
}

// SwingPoint represents a swing high or low point.
type SwingPoint struct {
	Index  int
	Price  float64
	IsHigh bool
}

type chartCheck func(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern

// Detect runs every chart check over the trailing window. Short series yield no patterns.
func (d *ChartPatternDetector) Detect(candles []models.Candle) ([]analysis.Pattern, error) {
	if len(candles) < d.minPatternBars {
		return nil, nil
	}

	highs, lows := d.findSwingPoints(candles)

	checks := []chartCheck{
		d.detectHeadAndShoulders,
		d.detectInverseHeadAndShoulders,
		d.detectTripleTop,
		d.detectTripleBottom,
		d.detectDoubleTop,
		d.detectDoubleBottom,
		d.detectCupAndHandle,
		d.detectRoundingBottom,
		d.detectFlag,
		d.detectBoundaryFormation,
		d.detectDiamondTop,
	}

	var patterns []analysis.Pattern
	for _, check := range checks {
		if p := check(candles, highs, lows); p != nil {
			patterns = append(patterns, *p)
		}
	}
	return patterns, nil
}

// findSwingPoints returns strict swing highs and lows inside the trailing window.
func (d *ChartPatternDetector) findSwingPoints(candles []models.Candle) (highs, lows []SwingPoint) {
	n := len(candles)
	from := d.minSwingStrength
	if n-d.maxPatternBars > from {
		from = n - d.maxPatternBars
	}

	for i := from; i < n-d.minSwingStrength; i++ {
		isHigh, isLow := true, true
		for j := 1; j <= d.minSwingStrength; j++ {
			if candles[i].High <= candles[i-j].High || candles[i].High <= candles[i+j].High {
				isHigh = false
			}
			if candles[i].Low >= candles[i-j].Low || candles[i].Low >= candles[i+j].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, SwingPoint{Index: i, Price: candles[i].High, IsHigh: true})
		}
		if isLow {
			lows = append(lows, SwingPoint{Index: i, Price: candles[i].Low})
		}
	}
	return highs, lows
}

func (d *ChartPatternDetector) pricesEqual(p1, p2 float64) bool {
	if p1 == 0 {
		return p2 == 0
	}
	return math.Abs(p1-p2)/p1 <= d.tolerancePercent
}

func swingsBetween(swings []SwingPoint, from, to int) []SwingPoint {
	var out []SwingPoint
	for _, s := range swings {
		if s.Index > from && s.Index < to {
			out = append(out, s)
		}
	}
	return out
}

func lastClose(candles []models.Candle) float64 {
	return candles[len(candles)-1].Close
}

// reversal builds a pattern with neckline levels. A close through the neckline upgrades the action to an entry.
func reversal(candles []models.Candle, t analysis.PatternType, start, end int, base float64, bullish bool, neckline, extreme, height float64) *analysis.Pattern {
	last := lastClose(candles)
	var p analysis.Pattern
	if bullish {
		p = newPattern(candles, t, start, end, base, analysis.SignalBullish, analysis.BiasBullish)
		p.Support = analysis.Price(extreme)
		p.Resistance = analysis.Price(neckline)
		p.StopLoss = analysis.Price(extreme)
		p.Target = analysis.Price(neckline + height)
		p.Action = analysis.ActionWaitForConfirmation
		if last > neckline {
			p.Action = analysis.ActionEnterLong
		}
	} else {
		p = newPattern(candles, t, start, end, base, analysis.SignalBearish, analysis.BiasBearish)
		p.Resistance = analysis.Price(extreme)
		p.Support = analysis.Price(neckline)
		p.StopLoss = analysis.Price(extreme)
		p.Target = analysis.PositivePrice(neckline - height)
		p.Action = analysis.ActionWaitForConfirmation
		if last < neckline {
			p.Action = analysis.ActionEnterShort
		}
	}
	p.Metadata["neckline"] = neckline
	p.Metadata["height"] = height
	return &p
}

// Head and shoulders

func (d *ChartPatternDetector) detectHeadAndShoulders(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(highs) - 1; i >= 2; i-- {
		left, head, right := highs[i-2], highs[i-1], highs[i]
		if head.Price <= left.Price || head.Price <= right.Price || !d.pricesEqual(left.Price, right.Price) {
			continue
		}
		troughs := swingsBetween(lows, left.Index, right.Index)
		if len(troughs) < 2 {
			continue
		}
		neckline := (troughs[0].Price + troughs[len(troughs)-1].Price) / 2
		p := reversal(candles, analysis.HeadAndShoulders, left.Index, right.Index, 85, false,
			neckline, right.Price, head.Price-neckline)
		p.Metadata["head"] = head.Price
		p.Description = "Three peaks with a higher middle head above a shared neckline"
		return p
	}
	return nil
}

func (d *ChartPatternDetector) detectInverseHeadAndShoulders(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(lows) - 1; i >= 2; i-- {
		left, head, right := lows[i-2], lows[i-1], lows[i]
		if head.Price >= left.Price || head.Price >= right.Price || !d.pricesEqual(left.Price, right.Price) {
			continue
		}
		peaks := swingsBetween(highs, left.Index, right.Index)
		if len(peaks) < 2 {
			continue
		}
		neckline := (peaks[0].Price + peaks[len(peaks)-1].Price) / 2
		p := reversal(candles, analysis.InverseHeadAndShoulders, left.Index, right.Index, 85, true,
			neckline, right.Price, neckline-head.Price)
		p.Metadata["head"] = head.Price
		p.Description = "Three troughs with a lower middle head below a shared neckline"
		return p
	}
	return nil
}

// Double and triple tops and bottoms

func (d *ChartPatternDetector) detectDoubleTop(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(highs) - 1; i >= 1; i-- {
		first, second := highs[i-1], highs[i]
		if !d.pricesEqual(first.Price, second.Price) {
			continue
		}
		troughs := swingsBetween(lows, first.Index, second.Index)
		if len(troughs) == 0 {
			continue
		}
		neckline := minPrice(troughs)
		top := math.Max(first.Price, second.Price)
		p := reversal(candles, analysis.DoubleTop, first.Index, second.Index, 75, false, neckline, top, top-neckline)
		p.Description = "Two matching peaks separated by a trough"
		return p
	}
	return nil
}

func (d *ChartPatternDetector) detectDoubleBottom(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(lows) - 1; i >= 1; i-- {
		first, second := lows[i-1], lows[i]
		if !d.pricesEqual(first.Price, second.Price) {
			continue
		}
		peaks := swingsBetween(highs, first.Index, second.Index)
		if len(peaks) == 0 {
			continue
		}
		neckline := maxPrice(peaks)
		bottom := math.Min(first.Price, second.Price)
		p := reversal(candles, analysis.DoubleBottom, first.Index, second.Index, 75, true, neckline, bottom, neckline-bottom)
		p.Description = "Two matching troughs separated by a peak"
		return p
	}
	return nil
}

func (d *ChartPatternDetector) detectTripleTop(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(highs) - 1; i >= 2; i-- {
		first, second, third := highs[i-2], highs[i-1], highs[i]
		if !d.pricesEqual(first.Price, second.Price) || !d.pricesEqual(second.Price, third.Price) {
			continue
		}
		troughs := swingsBetween(lows, first.Index, third.Index)
		if len(troughs) < 2 {
			continue
		}
		neckline := minPrice(troughs)
		top := math.Max(first.Price, math.Max(second.Price, third.Price))
		p := reversal(candles, analysis.TripleTop, first.Index, third.Index, 80, false, neckline, top, top-neckline)
		p.Description = "Three matching peaks over a common support"
		return p
	}
	return nil
}

func (d *ChartPatternDetector) detectTripleBottom(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(lows) - 1; i >= 2; i-- {
		first, second, third := lows[i-2], lows[i-1], lows[i]
		if !d.pricesEqual(first.Price, second.Price) || !d.pricesEqual(second.Price, third.Price) {
			continue
		}
		peaks := swingsBetween(highs, first.Index, third.Index)
		if len(peaks) < 2 {
			continue
		}
		neckline := maxPrice(peaks)
		bottom := math.Min(first.Price, math.Min(second.Price, third.Price))
		p := reversal(candles, analysis.TripleBottom, first.Index, third.Index, 80, true, neckline, bottom, neckline-bottom)
		p.Description = "Three matching troughs under a common resistance"
		return p
	}
	return nil
}

func minPrice(swings []SwingPoint) float64 {
	m := math.MaxFloat64
	for _, s := range swings {
		m = math.Min(m, s.Price)
	}
	return m
}

func maxPrice(swings []SwingPoint) float64 {
	m := -math.MaxFloat64
	for _, s := range swings {
		m = math.Max(m, s.Price)
	}
	return m
}

// Cup and handle, rounding bottom

func (d *ChartPatternDetector) detectCupAndHandle(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(lows) - 1; i >= 0; i-- {
		cup := lows[i]
		var left, right *SwingPoint
		for j := range highs {
			if highs[j].Index < cup.Index {
				left = &highs[j]
			}
			if highs[j].Index > cup.Index && right == nil {
				right = &highs[j]
			}
		}
		if left == nil || right == nil || !d.pricesEqual(left.Price, right.Price) {
			continue
		}
		depth := left.Price - cup.Price
		if right.Index-left.Index < 10 || depth/left.Price < 0.1 {
			continue
		}

		var handle *SwingPoint
		for j := range lows {
			if lows[j].Index > right.Index {
				handle = &lows[j]
				break
			}
		}
		if handle == nil || right.Price-handle.Price > depth*0.5 {
			continue
		}

		p := newPattern(candles, analysis.CupAndHandle, left.Index, handle.Index, 80, analysis.SignalBullish, analysis.BiasBullish)
		p.Support = analysis.Price(handle.Price)
		p.Resistance = analysis.Price(right.Price)
		p.StopLoss = analysis.Price(handle.Price)
		p.Target = analysis.Price(right.Price + depth)
		p.Action = analysis.ActionWaitForConfirmation
		if lastClose(candles) > right.Price {
			p.Action = analysis.ActionEnterLong
		}
		p.Metadata["cup_depth"] = depth
		p.Description = "Rounded base between matching rims followed by a shallow handle"
		return &p
	}
	return nil
}

func (d *ChartPatternDetector) detectRoundingBottom(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	n := len(candles)
	if n < 30 || len(lows) < 3 {
		return nil
	}
	from := 0
	if n > d.maxPatternBars {
		from = n - d.maxPatternBars
	}
	window := n - from

	lowest := from + window/3
	for i := from + window/3; i < from+2*window/3; i++ {
		if candles[i].Low < candles[lowest].Low {
			lowest = i
		}
	}
	rim := from
	for i := from; i < lowest; i++ {
		if candles[i].High > candles[rim].High {
			rim = i
		}
	}
	if lowest-rim < 5 {
		return nil
	}

	leftSlope := (candles[lowest].Close - candles[rim].Close) / float64(lowest-rim)
	rightSlope := (candles[n-1].Close - candles[lowest].Close) / float64(n-1-lowest)
	if leftSlope >= 0 || rightSlope <= 0 {
		return nil
	}
	if math.Abs(leftSlope+rightSlope) > math.Abs(leftSlope)*0.5 {
		return nil
	}

	bottom := candles[lowest].Low
	height := candles[rim].High - bottom
	p := newPattern(candles, analysis.RoundingBottom, rim, lowest, 70, analysis.SignalBullish, analysis.BiasBullish)
	p.Support = analysis.Price(bottom)
	p.Resistance = analysis.Price(candles[rim].High)
	p.StopLoss = analysis.Price(bottom)
	p.Target = analysis.Price(candles[rim].High + height*0.5)
	p.Action = analysis.ActionWaitForConfirmation
	p.Description = "Gradual symmetric decline and recovery"
	return &p
}

// Flags and pennants

func (d *ChartPatternDetector) detectFlag(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	n := len(candles)
	const poleBars = 10
	if n < poleBars+6 {
		return nil
	}

	minEnd := n - 21
	if minEnd < poleBars {
		minEnd = poleBars
	}
	for poleEnd := n - 6; poleEnd >= minEnd; poleEnd-- {
		poleStart := poleEnd - poleBars
		move := candles[poleEnd].Close - candles[poleStart].Close
		if candles[poleStart].Close <= 0 || math.Abs(move)/candles[poleStart].Close < 0.05 {
			continue
		}
		bullishPole := move > 0

		flag := candles[poleEnd+1:]
		hiSlope := normalisedSlope(models.Highs(flag))
		loSlope := normalisedSlope(models.Lows(flag))

		// The flag must not retrace more than half of the pole.
		var retrace float64
		if bullishPole {
			retrace = (candles[poleEnd].Close - minLow(flag)) / move
		} else {
			retrace = (maxHigh(flag) - candles[poleEnd].Close) / -move
		}
		if retrace > 0.5 {
			continue
		}

		var t analysis.PatternType
		switch {
		case hiSlope < 0 && loSlope > 0:
			t = analysis.Pennant
		case bullishPole && hiSlope <= 0 && loSlope <= 0 && math.Abs(hiSlope-loSlope) <= d.parallelSlopePct*3:
			t = analysis.BullFlag
		case !bullishPole && hiSlope >= 0 && loSlope >= 0 && math.Abs(hiSlope-loSlope) <= d.parallelSlopePct*3:
			t = analysis.BearFlag
		default:
			continue
		}

		bias := analysis.BiasBullish
		if !bullishPole {
			bias = analysis.BiasBearish
		}
		base := 75.0
		if t == analysis.Pennant {
			base = 72
		}
		p := newPattern(candles, t, poleStart, poleEnd, base, analysis.SignalContinuation, bias)
		pole := math.Abs(move)
		if bullishPole {
			p.Support = analysis.Price(minLow(flag))
			p.Resistance = analysis.Price(maxHigh(flag))
			p.StopLoss = p.Support
			p.Target = analysis.Price(maxHigh(flag) + pole)
		} else {
			p.Support = analysis.Price(minLow(flag))
			p.Resistance = analysis.Price(maxHigh(flag))
			p.StopLoss = p.Resistance
			p.Target = analysis.PositivePrice(minLow(flag) - pole)
		}
		p.Action = analysis.ActionWaitForConfirmation
		p.Metadata["pole_pct"] = math.Abs(move) / candles[poleStart].Close * 100
		p.Metadata["flag_bars"] = len(flag)
		p.Description = "Sharp pole followed by a tight consolidation"
		return &p
	}
	return nil
}

func minLow(candles []models.Candle) float64 {
	m := math.MaxFloat64
	for _, c := range candles {
		m = math.Min(m, c.Low)
	}
	return m
}

func maxHigh(candles []models.Candle) float64 {
	m := -math.MaxFloat64
	for _, c := range candles {
		m = math.Max(m, c.High)
	}
	return m
}

// normalisedSlope fits values by index and returns the slope as percent of the mean per bar.
func normalisedSlope(values []float64) float64 {
	mean := indicators.Mean(values)
	if mean == 0 {
		return 0
	}
	return indicators.SeriesSlope(values) / mean * 100
}

// boundaries holds least-squares lines through the swing highs and swing lows of a window.
type boundaries struct {
	highSlope, highIntercept float64
	lowSlope, lowIntercept   float64
	highPct, lowPct          float64 // slopes normalised to percent per bar
	start, end               int     // first and last swing index
}

func fitBoundaries(highs, lows []SwingPoint) (boundaries, bool) {
	if len(highs) < 2 || len(lows) < 2 {
		return boundaries{}, false
	}
	fit := func(s []SwingPoint) (float64, float64, float64) {
		xs := make([]float64, len(s))
		ys := make([]float64, len(s))
		for i, p := range s {
			xs[i], ys[i] = float64(p.Index), p.Price
		}
		slope, intercept := indicators.LinearFit(xs, ys)
		mean := indicators.Mean(ys)
		if mean == 0 {
			return slope, intercept, 0
		}
		return slope, intercept, slope / mean * 100
	}
	var b boundaries
	b.highSlope, b.highIntercept, b.highPct = fit(highs)
	b.lowSlope, b.lowIntercept, b.lowPct = fit(lows)
	b.start = min(highs[0].Index, lows[0].Index)
	b.end = max(highs[len(highs)-1].Index, lows[len(lows)-1].Index)
	return b, true
}

func (b boundaries) upperAt(i int) float64 { return b.highSlope*float64(i) + b.highIntercept }
func (b boundaries) lowerAt(i int) float64 { return b.lowSlope*float64(i) + b.lowIntercept }

// recentSwings returns the last k swings.
func recentSwings(s []SwingPoint, k int) []SwingPoint {
	if len(s) > k {
		return s[len(s)-k:]
	}
	return s
}

// detectBoundaryFormation classifies the two fitted boundaries of the recent swings into
// triangles, wedges, channels, rectangles and broadening formations.
func (d *ChartPatternDetector) detectBoundaryFormation(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	n := len(candles)
	if n < d.minTriangleBars {
		return nil
	}
	b, ok := fitBoundaries(recentSwings(highs, 4), recentSwings(lows, 4))
	if !ok || b.end-b.start < 10 {
		return nil
	}

	flat := func(s float64) bool { return math.Abs(s) < d.flatSlopePct }
	rising := func(s float64) bool { return s >= d.flatSlopePct }
	falling := func(s float64) bool { return s <= -d.flatSlopePct }
	parallel := math.Abs(b.highPct-b.lowPct) <= d.parallelSlopePct

	var t analysis.PatternType
	var base float64
	switch {
	case flat(b.highPct) && flat(b.lowPct):
		t, base = analysis.Rectangle, 68
	case flat(b.highPct) && rising(b.lowPct):
		t, base = analysis.AscendingTriangle, 72
	case falling(b.highPct) && flat(b.lowPct):
		t, base = analysis.DescendingTriangle, 72
	case falling(b.highPct) && rising(b.lowPct):
		t, base = analysis.SymmetricalTriangle, 68
	case rising(b.highPct) && falling(b.lowPct):
		t, base = analysis.BroadeningFormation, 65
	case rising(b.highPct) && rising(b.lowPct) && parallel:
		t, base = analysis.AscendingChannel, 66
	case falling(b.highPct) && falling(b.lowPct) && parallel:
		t, base = analysis.DescendingChannel, 66
	case rising(b.highPct) && rising(b.lowPct) && b.lowPct > b.highPct:
		t, base = analysis.RisingWedge, 72
	case falling(b.highPct) && falling(b.lowPct) && b.highPct < b.lowPct:
		t, base = analysis.FallingWedge, 72
	default:
		return nil
	}

	upper, lower := b.upperAt(n-1), b.lowerAt(n-1)
	if upper <= lower && t != analysis.BroadeningFormation {
		// Lines already crossed; the formation is spent.
		return nil
	}
	height := b.upperAt(b.start) - b.lowerAt(b.start)
	last := lastClose(candles)

	bias, signal := d.boundaryBias(candles, t, b.start)
	p := newPattern(candles, t, b.start, b.end, base, signal, bias)
	p.Support = analysis.Price(lower)
	p.Resistance = analysis.Price(upper)
	p.Action = analysis.ActionWatch
	switch bias {
	case analysis.BiasBullish:
		p.Target = analysis.Price(upper + math.Abs(height))
		p.StopLoss = analysis.Price(lower)
		if last > upper {
			p.Action = analysis.ActionEnterLong
		}
	case analysis.BiasBearish:
		p.Target = analysis.PositivePrice(lower - math.Abs(height))
		p.StopLoss = analysis.Price(upper)
		if last < lower {
			p.Action = analysis.ActionEnterShort
		}
	}
	p.Metadata["upper_slope_pct"] = b.highPct
	p.Metadata["lower_slope_pct"] = b.lowPct
	p.Metadata["upper"] = upper
	p.Metadata["lower"] = lower
	return &p
}

// boundaryBias returns the directional lean of a boundary formation. Neutral shapes follow the prior trend.
func (d *ChartPatternDetector) boundaryBias(candles []models.Candle, t analysis.PatternType, start int) (analysis.Bias, analysis.Signal) {
	switch t {
	case analysis.AscendingTriangle, analysis.FallingWedge:
		return analysis.BiasBullish, analysis.SignalBullish
	case analysis.DescendingTriangle, analysis.RisingWedge:
		return analysis.BiasBearish, analysis.SignalBearish
	case analysis.AscendingChannel:
		return analysis.BiasBullish, analysis.SignalContinuation
	case analysis.DescendingChannel:
		return analysis.BiasBearish, analysis.SignalContinuation
	case analysis.BroadeningFormation:
		return analysis.BiasNeutral, analysis.SignalNeutral
	}
	if start >= 10 {
		if candles[start].Close > candles[start-10].Close {
			return analysis.BiasBullish, analysis.SignalContinuation
		}
		if candles[start].Close < candles[start-10].Close {
			return analysis.BiasBearish, analysis.SignalContinuation
		}
	}
	return analysis.BiasNeutral, analysis.SignalNeutral
}

// detectDiamondTop looks for a broadening first half and a converging second half after an advance.
func (d *ChartPatternDetector) detectDiamondTop(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	if len(candles) < d.minTriangleBars*2 || len(highs) < 4 || len(lows) < 4 {
		return nil
	}
	start := min(highs[0].Index, lows[0].Index)
	end := max(highs[len(highs)-1].Index, lows[len(lows)-1].Index)
	mid := (start + end) / 2

	split := func(s []SwingPoint) ([]SwingPoint, []SwingPoint) {
		var a, b []SwingPoint
		for _, p := range s {
			if p.Index <= mid {
				a = append(a, p)
			} else {
				b = append(b, p)
			}
		}
		return a, b
	}
	h1, h2 := split(highs)
	l1, l2 := split(lows)
	first, ok1 := fitBoundaries(h1, l1)
	second, ok2 := fitBoundaries(h2, l2)
	if !ok1 || !ok2 {
		return nil
	}
	if !(first.highPct > 0 && first.lowPct < 0 && second.highPct < 0 && second.lowPct > 0) {
		return nil
	}
	if start < 10 || candles[start].Close <= candles[start-10].Close {
		return nil
	}

	top := maxPrice(highs)
	lower := second.lowerAt(len(candles) - 1)
	p := reversal(candles, analysis.DiamondTop, start, end, 70, false, lower, top, top-minPrice(lows))
	p.Description = "Broadening swings that contract again after an advance"
	return p
}
