package structure

import (
	"testing"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/testutil"
)

func kinds(levels []analysis.KeyLevel) map[analysis.KeyLevelKind]float64 {
	out := make(map[analysis.KeyLevelKind]float64)
	for _, l := range levels {
		out[l.Kind] = l.Price
	}
	return out
}

func TestKeyLevels_BuyLowSellHighFromRecentPivots(t *testing.T) {
	candles := testutil.Flat(60, 100, 1000)
	set := PivotSet{
		Lows:  []analysis.PivotPoint{pivotAt(20, 95), pivotAt(40, 97)},
		Highs: []analysis.PivotPoint{pivotAt(30, 104), pivotAt(50, 106)},
	}

	levels := kinds(NewKeyLevelsGenerator(DefaultKeyLevelConfig()).Generate(KeyLevelInput{
		Candles:   candles,
		Pivots:    set,
		Timeframe: models.Timeframe1d,
	}))

	if levels[analysis.KeyLevelBuyLow] != 97 {
		t.Errorf("expected buy low at most recent pivot low 97, got %v", levels[analysis.KeyLevelBuyLow])
	}
	if levels[analysis.KeyLevelSellHigh] != 106 {
		t.Errorf("expected sell high at most recent pivot high 106, got %v", levels[analysis.KeyLevelSellHigh])
	}
	if _, ok := levels[analysis.KeyLevelBuyTheDip]; ok {
		t.Error("buy the dip needs 200 bars and should be omitted")
	}
}

func TestKeyLevels_BuyTheDipFromLongSeries(t *testing.T) {
	candles := testutil.Flat(30, 100, 1000)
	long := testutil.Flat(220, 98, 1000)

	levels := kinds(NewKeyLevelsGenerator(DefaultKeyLevelConfig()).Generate(KeyLevelInput{
		Candles:   candles,
		Long:      long,
		Timeframe: models.Timeframe1d,
	}))

	price, ok := levels[analysis.KeyLevelBuyTheDip]
	if !ok {
		t.Fatal("expected a buy the dip level near the 200 SMA")
	}
	if price < 97.99 || price > 98.01 {
		t.Errorf("expected level at the average (98), got %.4f", price)
	}
}

func TestKeyLevels_PriorSessionOnlyIntraday(t *testing.T) {
	hi, lo := 105.0, 95.0
	session := &models.SessionLevels{PriorHigh: &hi, PriorLow: &lo}
	gen := NewKeyLevelsGenerator(DefaultKeyLevelConfig())
	candles := testutil.Flat(40, 100, 1000)

	daily := kinds(gen.Generate(KeyLevelInput{Candles: candles, Session: session, Timeframe: models.Timeframe1d}))
	if _, ok := daily[analysis.KeyLevelPriorHigh]; ok {
		t.Error("prior session levels must not be drawn on daily charts")
	}

	intraday := kinds(gen.Generate(KeyLevelInput{Candles: candles, Session: session, Timeframe: models.Timeframe5m}))
	if intraday[analysis.KeyLevelPriorHigh] != 105 || intraday[analysis.KeyLevelPriorLow] != 95 {
		t.Errorf("expected prior high/low on intraday chart, got %+v", intraday)
	}
}

func TestKeyLevels_EmptyInput(t *testing.T) {
	if got := NewKeyLevelsGenerator(DefaultKeyLevelConfig()).Generate(KeyLevelInput{}); got != nil {
		t.Errorf("expected no levels, got %+v", got)
	}
}

func TestLevelAnalyzer_TwoPerSide(t *testing.T) {
	set := PivotSet{
		Lows: []analysis.PivotPoint{
			pivotAt(5, 90), pivotAt(15, 90.5), pivotAt(25, 95), pivotAt(35, 80), pivotAt(45, 97),
		},
		Highs: []analysis.PivotPoint{
			pivotAt(10, 110), pivotAt(20, 110.4), pivotAt(30, 104), pivotAt(40, 120),
		},
	}
	levels := NewLevelAnalyzer().Analyze(set, 100)

	if len(levels.Supports) != 2 || len(levels.Resistances) != 2 {
		t.Fatalf("expected two levels per side, got %d supports and %d resistances", len(levels.Supports), len(levels.Resistances))
	}
	if levels.Supports[0].TouchCount != 2 {
		t.Errorf("expected the double-touch cluster first, got %+v", levels.Supports[0])
	}
	if levels.Supports[1].Price != 97 {
		t.Errorf("expected nearest single touch support 97 second, got %.2f", levels.Supports[1].Price)
	}
	for _, r := range levels.Resistances {
		if r.Price <= 100 {
			t.Errorf("resistance %.2f is not above price", r.Price)
		}
	}
}
