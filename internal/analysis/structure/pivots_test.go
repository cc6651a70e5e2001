package structure

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/testutil"
)

func strictlyIncreasing(pivots []analysis.PivotPoint) bool {
	for i := 1; i < len(pivots); i++ {
		if pivots[i].Index <= pivots[i-1].Index {
			return false
		}
	}
	return true
}

// Property: pivot index lists are strictly increasing within highs and within lows,
// in both single and multi-timeframe mode.
func TestProperty_PivotIndicesStrictlyIncreasing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("pivot indices strictly increase", prop.ForAll(
		func(candles []models.Candle) bool {
			for _, mtf := range []bool{false, true} {
				cfg := DefaultPivotConfig(models.ProfileFor(models.Timeframe1H, len(candles)))
				cfg.MultiTimeframe = mtf
				set := NewPivotDetector(cfg).Detect(candles, time.Hour)
				if !strictlyIncreasing(set.Highs) || !strictlyIncreasing(set.Lows) {
					return false
				}
			}
			return true
		},
		testutil.CandleSeriesGen(1, 300),
	))

	properties.TestingRun(t)
}

// Property: every pivot sits on the extreme price of its own bar.
func TestProperty_PivotPricesMatchBars(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("pivot price equals bar high or low", prop.ForAll(
		func(candles []models.Candle) bool {
			cfg := DefaultPivotConfig(models.ProfileFor(models.Timeframe15m, len(candles)))
			set := NewPivotDetector(cfg).Detect(candles, 15*time.Minute)
			for _, p := range set.Highs {
				if !p.IsHigh || candles[p.Index].High != p.Price || !candles[p.Index].Timestamp.Equal(p.Timestamp) {
					return false
				}
			}
			for _, p := range set.Lows {
				if p.IsHigh || candles[p.Index].Low != p.Price {
					return false
				}
			}
			return true
		},
		testutil.CandleSeriesGen(10, 250),
	))

	properties.TestingRun(t)
}

func TestPivotDetector_EqualPricePlateauCollapses(t *testing.T) {
	n := 20
	high := make([]float64, n)
	low := make([]float64, n)
	ts := make([]time.Time, n)
	for i := range high {
		if i <= 8 {
			high[i] = 11 - 0.05*float64(8-i)
		} else {
			high[i] = 11 - 0.05*float64(i-9)
		}
		low[i] = 9
		ts[i] = testutil.Epoch.Add(time.Duration(i) * time.Hour)
	}
	high[8], high[9] = 12, 12

	cfg := PivotConfig{LeftBars: 2, RightBars: 2, MinSpacingFloor: 3, SpacingPct: 0.05, MinMovePct: 1}
	set := NewPivotDetector(cfg).DetectSeries(high, low, ts)

	if len(set.Highs) != 1 {
		t.Fatalf("expected one pivot high, got %d: %+v", len(set.Highs), set.Highs)
	}
	if set.Highs[0].Index != 8 {
		t.Errorf("expected earliest bar of the plateau (8), got %d", set.Highs[0].Index)
	}
}

func TestPivotDetector_MultiTimeframeFallsBackOnShortSeries(t *testing.T) {
	candles := testutil.FromCloses(testutil.Walk([]float64{
		2, 2, -1, -3, -2, 1, 2, 3, 1, -1, -2, -3, -1, 2, 3, 2, 1, -2, -3, -1,
		1, 2, 2, -1, -2, -2, 1, 3, 2, -1,
	}), 1000)

	cfg := DefaultPivotConfig(models.ProfileFor(models.Timeframe1H, len(candles)))
	detector := NewPivotDetector(cfg)

	got := detector.Detect(candles, time.Hour)
	want := detector.DetectSeries(models.Highs(candles), models.Lows(candles), models.Timestamps(candles))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected single-timeframe result for a short series\n got %+v\nwant %+v", got, want)
	}
}

func TestPivotDetector_UptrendKeepsHigherLows(t *testing.T) {
	var steps []float64
	for i := 0; i < 12; i++ {
		steps = append(steps, 2, 2, 2, 2, -1.5, -1.5, -1.5)
	}
	candles := testutil.FromCloses(testutil.Walk(steps), 1000)

	cfg := DefaultPivotConfig(models.ProfileFor(models.Timeframe1H, len(candles)))
	cfg.MultiTimeframe = false
	set := NewPivotDetector(cfg).Detect(candles, time.Hour)

	if len(set.Lows) < 2 {
		t.Fatalf("expected several swing lows in a stair-step uptrend, got %d", len(set.Lows))
	}
	for i := 1; i < len(set.Lows); i++ {
		if set.Lows[i].Price <= set.Lows[i-1].Price {
			t.Errorf("low %d (%.2f) is not above the previous low (%.2f)", i, set.Lows[i].Price, set.Lows[i-1].Price)
		}
	}
}
