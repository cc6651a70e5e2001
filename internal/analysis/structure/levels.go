package structure

import (
	"math"
	"sort"

	"pattern-tracker/internal/analysis"
)

// maxLevelsPerSide is the number of supports and resistances reported per cycle.
const maxLevelsPerSide = 2

// LevelAnalyzer turns pivots into horizontal support and resistance levels.
type LevelAnalyzer struct {
	clusterTolerance float64 // fraction of price
	minTouches       int
}

// NewLevelAnalyzer creates a new support/resistance level analyzer.
func NewLevelAnalyzer() *LevelAnalyzer {
	return &LevelAnalyzer{
		clusterTolerance: 0.01,
		minTouches:       2,
	}
}

// LevelSet holds the reported levels on each side of the current price.
type LevelSet struct {
	Supports    []analysis.Level `json:"supports"`
	Resistances []analysis.Level `json:"resistances"`
}

// Analyze clusters pivot lows below price into supports and pivot highs above price into resistances.
// Each side keeps at most two levels, multi-touch clusters first and then the nearest.
func (l *LevelAnalyzer) Analyze(set PivotSet, price float64) LevelSet {
	var out LevelSet
	for _, c := range l.clusterPivots(set.Lows) {
		if c.price < price {
			out.Supports = append(out.Supports, l.toLevel(c, analysis.LevelSupport))
		}
	}
	for _, c := range l.clusterPivots(set.Highs) {
		if c.price > price {
			out.Resistances = append(out.Resistances, l.toLevel(c, analysis.LevelResistance))
		}
	}
	out.Supports = l.rank(out.Supports, price)
	out.Resistances = l.rank(out.Resistances, price)
	return out
}

func (l *LevelAnalyzer) toLevel(c clusteredLevel, t analysis.LevelType) analysis.Level {
	return analysis.Level{
		Price:      c.price,
		Type:       t,
		Strength:   c.touches,
		TouchCount: c.touches,
		Source:     "pivot",
	}
}

func (l *LevelAnalyzer) rank(levels []analysis.Level, price float64) []analysis.Level {
	sort.SliceStable(levels, func(i, j int) bool {
		ci := levels[i].TouchCount >= l.minTouches
		cj := levels[j].TouchCount >= l.minTouches
		if ci != cj {
			return ci
		}
		return math.Abs(levels[i].Price-price) < math.Abs(levels[j].Price-price)
	})
	if len(levels) > maxLevelsPerSide {
		levels = levels[:maxLevelsPerSide]
	}
	return levels
}

type clusteredLevel struct {
	price    float64
	touches  int
	firstIdx int
	lastIdx  int
}

// clusterPivots groups nearby pivot prices into single levels.
func (l *LevelAnalyzer) clusterPivots(pivots []analysis.PivotPoint) []clusteredLevel {
	if len(pivots) == 0 {
		return nil
	}

	sorted := append([]analysis.PivotPoint(nil), pivots...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})

	var clusters []clusteredLevel
	current := clusteredLevel{
		price:    sorted[0].Price,
		touches:  1,
		firstIdx: sorted[0].Index,
		lastIdx:  sorted[0].Index,
	}

	for _, p := range sorted[1:] {
		if current.price > 0 && math.Abs(p.Price-current.price)/current.price <= l.clusterTolerance {
			current.touches++
			current.price = (current.price*float64(current.touches-1) + p.Price) / float64(current.touches)
			if p.Index < current.firstIdx {
				current.firstIdx = p.Index
			}
			if p.Index > current.lastIdx {
				current.lastIdx = p.Index
			}
			continue
		}
		clusters = append(clusters, current)
		current = clusteredLevel{
			price:    p.Price,
			touches:  1,
			firstIdx: p.Index,
			lastIdx:  p.Index,
		}
	}
	return append(clusters, current)
}
