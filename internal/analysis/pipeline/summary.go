package pipeline

import (
	"fmt"
	"math"
	"strings"

	"pattern-tracker/internal/analysis"
)

// Summarize renders a one-paragraph description of an analysis result.
func Summarize(res *AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s last %.2f.", res.Symbol, res.Timeframe, res.LastPrice)

	switch len(res.Patterns) {
	case 0:
		b.WriteString(" No patterns above the confidence threshold.")
	default:
		top := res.Patterns[0]
		fmt.Fprintf(&b, " %d pattern(s) detected, %d high confidence; strongest is %s (%s, %.0f%%).",
			len(res.Patterns), len(res.HighConfidence), displayName(top.Type), top.Bias, top.Confidence)
		bias := overallBias(res.HighConfidence)
		if bias != analysis.BiasNeutral {
			fmt.Fprintf(&b, " High-confidence patterns lean %s.", bias)
		}
	}

	if s, ok := nearest(res.Supports, res.LastPrice); ok {
		fmt.Fprintf(&b, " Nearest support %.2f.", s)
	}
	if r, ok := nearest(res.Resistances, res.LastPrice); ok {
		fmt.Fprintf(&b, " Nearest resistance %.2f.", r)
	}
	if len(res.Trendlines) > 0 {
		fmt.Fprintf(&b, " %d trendline(s) drawn.", len(res.Trendlines))
	}
	return b.String()
}

func displayName(t analysis.PatternType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func overallBias(patterns []analysis.Pattern) analysis.Bias {
	var score float64
	for _, p := range patterns {
		switch p.Bias {
		case analysis.BiasBullish:
			score += p.Confidence
		case analysis.BiasBearish:
			score -= p.Confidence
		}
	}
	switch {
	case score > 0:
		return analysis.BiasBullish
	case score < 0:
		return analysis.BiasBearish
	default:
		return analysis.BiasNeutral
	}
}

func nearest(levels []analysis.Level, price float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range levels {
		if !found || math.Abs(l.Price-price) < math.Abs(best-price) {
			best, found = l.Price, true
		}
	}
	return best, found
}
