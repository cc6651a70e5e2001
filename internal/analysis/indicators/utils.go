package indicators

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean of a slice of float64.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// StdDev calculates the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var variance float64
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Percentile returns the p-th percentile (0..100) using linear interpolation between ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// LinearFit returns the least-squares slope and intercept of ys against xs.
// A vertical or degenerate input yields a flat line through the mean.
func LinearFit(xs, ys []float64) (slope, intercept float64) {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0, 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx float64
	for i := range xs {
		dx := xs[i] - mx
		sxy += dx * (ys[i] - my)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0, my
	}
	slope = sxy / sxx
	return slope, my - slope*mx
}

// SeriesSlope fits a line over values indexed 0..n-1.
func SeriesSlope(values []float64) float64 {
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	slope, _ := LinearFit(xs, values)
	return slope
}

// PercentChange returns the percent move from a to b.
func PercentChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a * 100
}
