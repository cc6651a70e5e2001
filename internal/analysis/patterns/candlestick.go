package patterns

import (
	"math"

	talibcdl "github.com/iwat/talib-cdl-go"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/models"
)

// CandlestickDetector detects one to three candle formations over the most recent bars.
type CandlestickDetector struct {
	lookback             int     // trailing bars whose completion is checked
	dojiThreshold        float64 // body as a fraction of range
	longBodyThreshold    float64 // body as a fraction of range
	shadowThreshold      float64 // shadow as a multiple of body
	starBodyRatio        float64 // star body as a fraction of the first candle body
	abandonedPenetration float64
}

// NewCandlestickDetector creates a new candlestick pattern detector.
func NewCandlestickDetector(lookback int) *CandlestickDetector {
	if lookback < 1 {
		lookback = 5
	}
	return &CandlestickDetector{
		lookback:             lookback,
		dojiThreshold:        0.1,
		longBodyThreshold:    0.5,
		shadowThreshold:      2.0,
		starBodyRatio:        0.3,
		abandonedPenetration: 0.3,
	}
}

func (d *CandlestickDetector) Name() string {
	return "CandlestickDetector"
}

func (d *CandlestickDetector) Category() analysis.Category {
	return analysis.CategoryCandlestick
}

type candleCheck func(candles []models.Candle, idx int) *analysis.Pattern

// Detect checks every formation ending on one of the trailing lookback bars.
func (d *CandlestickDetector) Detect(candles []models.Candle) ([]analysis.Pattern, error) {
	n := len(candles)
	if n == 0 {
		return nil, nil
	}

	checks := []candleCheck{
		d.detectDoji,
		d.detectHammer,
		d.detectShootingStar,
		d.detectEngulfing,
		d.detectPiercingLine,
		d.detectDarkCloudCover,
		d.detectHarami,
		d.detectMorningStar,
		d.detectEveningStar,
		d.detectThreeWhiteSoldiers,
		d.detectThreeBlackCrows,
	}

	var patterns []analysis.Pattern
	start := n - d.lookback
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		for _, check := range checks {
			if p := check(candles, i); p != nil {
				patterns = append(patterns, *p)
			}
		}
	}
	patterns = append(patterns, d.detectAbandonedBaby(candles, start)...)
	return patterns, nil
}

func upperShadow(c models.Candle) float64 {
	return c.High - math.Max(c.Open, c.Close)
}

func lowerShadow(c models.Candle) float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

func (d *CandlestickDetector) isLongBody(c models.Candle) bool {
	rng := c.Range()
	return rng > 0 && c.Body()/rng >= d.longBodyThreshold
}

// isInDowntrend checks the three closes before idx for a falling sequence.
func isInDowntrend(candles []models.Candle, idx int) bool {
	if idx < 3 {
		return false
	}
	return candles[idx-1].Close < candles[idx-2].Close &&
		candles[idx-2].Close < candles[idx-3].Close
}

// isInUptrend checks the three closes before idx for a rising sequence.
func isInUptrend(candles []models.Candle, idx int) bool {
	if idx < 3 {
		return false
	}
	return candles[idx-1].Close > candles[idx-2].Close &&
		candles[idx-2].Close > candles[idx-3].Close
}

// withBullishLevels sets support at the formation low and a 2R target.
func withBullishLevels(p *analysis.Pattern, candles []models.Candle) {
	low := candles[p.StartIndex].Low
	high := candles[p.StartIndex].High
	for i := p.StartIndex; i <= p.EndIndex; i++ {
		low = math.Min(low, candles[i].Low)
		high = math.Max(high, candles[i].High)
	}
	entry := candles[p.EndIndex].Close
	p.Support = analysis.Price(low)
	p.StopLoss = analysis.Price(low)
	p.Resistance = analysis.Price(high)
	p.Target = analysis.Price(entry + 2*math.Max(entry-low, 0))
}

// withBearishLevels sets resistance at the formation high and a 2R target.
func withBearishLevels(p *analysis.Pattern, candles []models.Candle) {
	low := candles[p.StartIndex].Low
	high := candles[p.StartIndex].High
	for i := p.StartIndex; i <= p.EndIndex; i++ {
		low = math.Min(low, candles[i].Low)
		high = math.Max(high, candles[i].High)
	}
	entry := candles[p.EndIndex].Close
	p.Resistance = analysis.Price(high)
	p.StopLoss = analysis.Price(high)
	p.Support = analysis.Price(low)
	p.Target = analysis.PositivePrice(entry - 2*math.Max(high-entry, 0))
}

func (d *CandlestickDetector) bullish(candles []models.Candle, t analysis.PatternType, start, end int, base float64, action analysis.Action, desc string) *analysis.Pattern {
	p := newPattern(candles, t, start, end, base, analysis.SignalBullish, analysis.BiasBullish)
	p.Action = action
	p.Description = desc
	withBullishLevels(&p, candles)
	return &p
}

func (d *CandlestickDetector) bearish(candles []models.Candle, t analysis.PatternType, start, end int, base float64, action analysis.Action, desc string) *analysis.Pattern {
	p := newPattern(candles, t, start, end, base, analysis.SignalBearish, analysis.BiasBearish)
	p.Action = action
	p.Description = desc
	withBearishLevels(&p, candles)
	return &p
}

// Single-candle formations

func (d *CandlestickDetector) detectDoji(candles []models.Candle, idx int) *analysis.Pattern {
	c := candles[idx]
	rng := c.Range()
	if rng == 0 || c.Body()/rng > d.dojiThreshold {
		return nil
	}
	p := newPattern(candles, analysis.Doji, idx, idx, 65, analysis.SignalNeutral, analysis.BiasNeutral)
	p.Description = "Indecision candle with open and close nearly equal"
	p.Support = analysis.Price(c.Low)
	p.Resistance = analysis.Price(c.High)
	return &p
}

func (d *CandlestickDetector) detectHammer(candles []models.Candle, idx int) *analysis.Pattern {
	c := candles[idx]
	body := c.Body()
	if body == 0 || lowerShadow(c) < body*d.shadowThreshold || upperShadow(c) > body*0.5 {
		return nil
	}
	if !isInDowntrend(candles, idx) {
		return nil
	}
	return d.bullish(candles, analysis.Hammer, idx, idx, 72, analysis.ActionWaitForConfirmation,
		"Long lower shadow after a decline shows buyers rejecting lower prices")
}

func (d *CandlestickDetector) detectShootingStar(candles []models.Candle, idx int) *analysis.Pattern {
	c := candles[idx]
	body := c.Body()
	if body == 0 || upperShadow(c) < body*d.shadowThreshold || lowerShadow(c) > body*0.5 {
		return nil
	}
	if !isInUptrend(candles, idx) {
		return nil
	}
	return d.bearish(candles, analysis.ShootingStar, idx, idx, 72, analysis.ActionWaitForConfirmation,
		"Long upper shadow after an advance shows sellers rejecting higher prices")
}

// Two-candle formations

func (d *CandlestickDetector) detectEngulfing(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 1 {
		return nil
	}
	prev, curr := candles[idx-1], candles[idx]
	if curr.Body() <= prev.Body() {
		return nil
	}

	if prev.IsBearish() && curr.IsBullish() && curr.Open <= prev.Close && curr.Close >= prev.Open {
		action := analysis.ActionWaitForConfirmation
		if isInDowntrend(candles, idx-1) {
			action = analysis.ActionEnterLong
		}
		return d.bullish(candles, analysis.BullishEngulfing, idx-1, idx, 75, action,
			"Bullish body fully engulfs the prior bearish body")
	}
	if prev.IsBullish() && curr.IsBearish() && curr.Open >= prev.Close && curr.Close <= prev.Open {
		action := analysis.ActionWaitForConfirmation
		if isInUptrend(candles, idx-1) {
			action = analysis.ActionEnterShort
		}
		return d.bearish(candles, analysis.BearishEngulfing, idx-1, idx, 75, action,
			"Bearish body fully engulfs the prior bullish body")
	}
	return nil
}

func (d *CandlestickDetector) detectPiercingLine(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 1 {
		return nil
	}
	prev, curr := candles[idx-1], candles[idx]
	if !prev.IsBearish() || !d.isLongBody(prev) || !curr.IsBullish() {
		return nil
	}
	if curr.Open >= prev.Close || curr.Close <= prev.Midpoint() || curr.Close >= prev.Open {
		return nil
	}
	return d.bullish(candles, analysis.PiercingLine, idx-1, idx, 70, analysis.ActionWaitForConfirmation,
		"Opens below the prior close and recovers past the prior body midpoint")
}

func (d *CandlestickDetector) detectDarkCloudCover(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 1 {
		return nil
	}
	prev, curr := candles[idx-1], candles[idx]
	if !prev.IsBullish() || !d.isLongBody(prev) || !curr.IsBearish() {
		return nil
	}
	if curr.Open <= prev.Close || curr.Close >= prev.Midpoint() || curr.Close <= prev.Open {
		return nil
	}
	return d.bearish(candles, analysis.DarkCloudCover, idx-1, idx, 70, analysis.ActionWaitForConfirmation,
		"Opens above the prior close and falls below the prior body midpoint")
}

func (d *CandlestickDetector) detectHarami(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 1 {
		return nil
	}
	prev, curr := candles[idx-1], candles[idx]
	if !d.isLongBody(prev) || curr.Body() == 0 || curr.Body() >= prev.Body()*0.6 {
		return nil
	}
	hi := math.Max(prev.Open, prev.Close)
	lo := math.Min(prev.Open, prev.Close)
	if math.Max(curr.Open, curr.Close) > hi || math.Min(curr.Open, curr.Close) < lo {
		return nil
	}
	if prev.IsBearish() && curr.IsBullish() {
		return d.bullish(candles, analysis.BullishHarami, idx-1, idx, 65, analysis.ActionWatch,
			"Small bullish body contained inside a large bearish body")
	}
	if prev.IsBullish() && curr.IsBearish() {
		return d.bearish(candles, analysis.BearishHarami, idx-1, idx, 65, analysis.ActionWatch,
			"Small bearish body contained inside a large bullish body")
	}
	return nil
}

// Three-candle formations

func (d *CandlestickDetector) detectMorningStar(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 2 {
		return nil
	}
	first, second, third := candles[idx-2], candles[idx-1], candles[idx]

	if !first.IsBearish() || !d.isLongBody(first) {
		return nil
	}
	if second.Body() > first.Body()*d.starBodyRatio {
		return nil
	}
	if !third.IsBullish() || third.Close <= first.Midpoint() {
		return nil
	}
	return d.bullish(candles, analysis.MorningStar, idx-2, idx, 80, analysis.ActionEnterLong,
		"Bearish candle, small-bodied star, then a bullish close above the first candle midpoint")
}

func (d *CandlestickDetector) detectEveningStar(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 2 {
		return nil
	}
	first, second, third := candles[idx-2], candles[idx-1], candles[idx]

	if !first.IsBullish() || !d.isLongBody(first) {
		return nil
	}
	if second.Body() > first.Body()*d.starBodyRatio {
		return nil
	}
	if !third.IsBearish() || third.Close >= first.Midpoint() {
		return nil
	}
	return d.bearish(candles, analysis.EveningStar, idx-2, idx, 80, analysis.ActionEnterShort,
		"Bullish candle, small-bodied star, then a bearish close below the first candle midpoint")
}

func (d *CandlestickDetector) detectThreeWhiteSoldiers(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 2 {
		return nil
	}
	for k := idx - 2; k <= idx; k++ {
		c := candles[k]
		if !c.IsBullish() || !d.isLongBody(c) {
			return nil
		}
		if k > idx-2 {
			prev := candles[k-1]
			if c.Close <= prev.Close || c.Open < prev.Open || c.Open > prev.Close {
				return nil
			}
		}
	}
	p := d.bullish(candles, analysis.ThreeWhiteSoldiers, idx-2, idx, 75, analysis.ActionHold,
		"Three long bullish candles each opening inside the prior body and closing higher")
	p.Signal = analysis.SignalContinuation
	return p
}

func (d *CandlestickDetector) detectThreeBlackCrows(candles []models.Candle, idx int) *analysis.Pattern {
	if idx < 2 {
		return nil
	}
	for k := idx - 2; k <= idx; k++ {
		c := candles[k]
		if !c.IsBearish() || !d.isLongBody(c) {
			return nil
		}
		if k > idx-2 {
			prev := candles[k-1]
			if c.Close >= prev.Close || c.Open > prev.Open || c.Open < prev.Close {
				return nil
			}
		}
	}
	p := d.bearish(candles, analysis.ThreeBlackCrows, idx-2, idx, 75, analysis.ActionHold,
		"Three long bearish candles each opening inside the prior body and closing lower")
	p.Signal = analysis.SignalContinuation
	return p
}

// detectAbandonedBaby uses the TA-Lib candlestick recogniser, which needs its own averaging window.
func (d *CandlestickDetector) detectAbandonedBaby(candles []models.Candle, start int) []analysis.Pattern {
	if len(candles) < 3 {
		return nil
	}
	series := talibcdl.SimpleSeries{
		Opens:  models.Opens(candles),
		Highs:  models.Highs(candles),
		Lows:   models.Lows(candles),
		Closes: models.Closes(candles),
	}
	results := talibcdl.AbandonedBaby(series, d.abandonedPenetration)

	var out []analysis.Pattern
	for i := start; i < len(results) && i < len(candles); i++ {
		if i < 2 {
			continue
		}
		switch {
		case results[i] > 0:
			out = append(out, *d.bullish(candles, analysis.BullishAbandonedBaby, i-2, i, 82, analysis.ActionEnterLong,
				"Doji gapped below a bearish candle and a bullish candle gapped back above it"))
		case results[i] < 0:
			out = append(out, *d.bearish(candles, analysis.BearishAbandonedBaby, i-2, i, 82, analysis.ActionEnterShort,
				"Doji gapped above a bullish candle and a bearish candle gapped back below it"))
		}
	}
	return out
}
