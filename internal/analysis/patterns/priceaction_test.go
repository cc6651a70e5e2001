package patterns

import (
	"testing"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/testutil"
)

func TestBreakoutDetector_RequiresVolume(t *testing.T) {
	d := NewBreakoutDetector(1.5)

	found, err := d.Detect(breakoutSeries(3000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := findType(found, analysis.ResistanceBreakout)
	if p == nil {
		t.Fatalf("expected resistance breakout, got %+v", found)
	}
	if p.Action != analysis.ActionEnterLong {
		t.Errorf("expected enter_long, got %s", p.Action)
	}
	if p.Resistance == nil || *p.Resistance != 101 {
		t.Errorf("expected resistance at the 90th percentile high 101, got %v", p.Resistance)
	}

	quiet, err := d.Detect(breakoutSeries(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quiet) != 0 {
		t.Errorf("expected no confirmed breakout on average volume, got %+v", quiet)
	}
}

func TestBreakoutDetector_SupportBounce(t *testing.T) {
	candles := breakoutSeries(1000)
	candles[len(candles)-1] = testutil.Bar(len(candles)-1, 99.2, 100.2, 98.8, 100.1, 1000)

	found, err := NewBreakoutDetector(1.5).Detect(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if findType(found, analysis.SupportBounce) == nil {
		t.Errorf("expected a support bounce, got %+v", found)
	}
}

func TestBreakoutDetector_ShortSeries(t *testing.T) {
	found, err := NewBreakoutDetector(1.5).Detect(testutil.Flat(10, 100, 1000))
	if err != nil || found != nil {
		t.Errorf("expected nothing below the minimum window, got %+v (err %v)", found, err)
	}
}

func TestGapDetector_BreakawayFromRange(t *testing.T) {
	candles := testutil.Flat(20, 100, 1000)
	candles = append(candles, testutil.Bar(20, 102, 103, 101.5, 102.8, 2000))

	found, err := NewGapDetector().Detect(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one gap, got %+v", found)
	}
	p := found[0]
	if p.Type != analysis.BreakawayGap {
		t.Errorf("expected breakaway gap, got %s", p.Type)
	}
	if p.Bias != analysis.BiasBullish {
		t.Errorf("expected bullish bias, got %s", p.Bias)
	}
	if p.Support == nil || *p.Support != candles[19].High {
		t.Errorf("expected support at the gapped-over high, got %v", p.Support)
	}
}

func TestGapDetector_ExhaustionAfterExtendedMove(t *testing.T) {
	steps := make([]float64, 20)
	for i := range steps {
		steps[i] = 1.5
	}
	candles := testutil.FromCloses(testutil.Walk(steps), 1000)
	last := candles[len(candles)-1]
	gapOpen := last.High + 2
	candles = append(candles, testutil.Bar(len(candles), gapOpen, gapOpen+1, gapOpen-0.2, gapOpen+0.5, 3000))

	found, err := NewGapDetector().Detect(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := findType(found, analysis.ExhaustionGap)
	if p == nil {
		t.Fatalf("expected an exhaustion gap, got %+v", found)
	}
	if p.Action != analysis.ActionTakeProfit {
		t.Errorf("expected take_profit, got %s", p.Action)
	}
	if p.Bias != analysis.BiasBearish {
		t.Errorf("expected bearish lean after an upside exhaustion gap, got %s", p.Bias)
	}
}

func TestGapDetector_NoGap(t *testing.T) {
	found, err := NewGapDetector().Detect(testutil.Flat(30, 100, 1000))
	if err != nil || len(found) != 0 {
		t.Errorf("expected no gaps on a flat series, got %+v (err %v)", found, err)
	}
}
