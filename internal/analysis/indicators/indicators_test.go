package indicators

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"pattern-tracker/internal/models"
	"pattern-tracker/internal/testutil"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 2},
		{50, 3},
		{90, 4.6},
		{100, 5},
		{150, 5},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); !approx(got, tt.want) {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if Percentile(nil, 50) != 0 {
		t.Error("empty input should yield 0")
	}
	if values[0] != 5 {
		t.Error("Percentile must not reorder its input")
	}
}

func TestLinearFit(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	ys := []float64{1, 3, 5, 7}
	slope, intercept := LinearFit(xs, ys)
	if !approx(slope, 2) || !approx(intercept, 1) {
		t.Errorf("LinearFit = (%v, %v), want (2, 1)", slope, intercept)
	}

	slope, intercept = LinearFit([]float64{2, 2}, []float64{1, 3})
	if slope != 0 || !approx(intercept, 2) {
		t.Errorf("vertical input should give a flat line through the mean, got (%v, %v)", slope, intercept)
	}
	if !approx(SeriesSlope([]float64{10, 9, 8}), -1) {
		t.Errorf("SeriesSlope of a falling series should be -1")
	}
}

func TestSMALast(t *testing.T) {
	candles := testutil.FromCloses([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 1000)
	got, ok := SMALast(candles, 5)
	if !ok || !approx(got, 8) {
		t.Errorf("SMALast = (%v, %v), want (8, true)", got, ok)
	}
	if _, ok := SMALast(candles, 200); ok {
		t.Error("short series should not report an SMA")
	}
}

func TestVolumeRatio(t *testing.T) {
	candles := testutil.Flat(6, 100, 1000)
	candles[5].Volume = 3000
	if got := VolumeRatio(candles, 5, 5); !approx(got, 3) {
		t.Errorf("VolumeRatio = %v, want 3", got)
	}
	if got := VolumeRatio(candles, 10, 5); got != 1 {
		t.Errorf("out-of-range index should report 1, got %v", got)
	}

	noVolume := testutil.Flat(4, 100, 0)
	if got := VolumeRatio(noVolume, 3, 3); got != 1 {
		t.Errorf("series without volume should report 1, got %v", got)
	}
}

func TestTrueRange(t *testing.T) {
	prev := models.Candle{Close: 100}
	gap := models.Candle{Open: 110, High: 112, Low: 108, Close: 111}
	if got := TrueRange(gap, prev); !approx(got, 12) {
		t.Errorf("gap up true range = %v, want 12", got)
	}
}

func TestPercentChange(t *testing.T) {
	if !approx(PercentChange(100, 110), 10) || PercentChange(0, 5) != 0 {
		t.Error("unexpected PercentChange result")
	}
}

// Property: ATR is never negative and ATRAt always yields a usable unit.
func TestProperty_ATRNonNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("atr values are non-negative", prop.ForAll(
		func(candles []models.Candle) bool {
			atr := ATR(candles, 14)
			if len(atr) != len(candles) {
				return false
			}
			for i := range candles {
				if atr[i] < 0 || ATRAt(candles, atr, i) < 0 {
					return false
				}
			}
			return true
		},
		testutil.CandleSeriesGen(5, 80),
	))

	properties.TestingRun(t)
}

// Property: any percentile lies within the sample's range.
func TestProperty_PercentileWithinRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("percentile is bounded by min and max", prop.ForAll(
		func(values []float64, p float64) bool {
			if len(values) == 0 {
				return true
			}
			lo, hi := values[0], values[0]
			for _, v := range values {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			got := Percentile(values, p)
			return got >= lo-1e-9 && got <= hi+1e-9
		},
		gen.SliceOf(gen.Float64Range(-1000, 1000)),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
