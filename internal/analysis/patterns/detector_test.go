package patterns

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"

	"pattern-tracker/internal/analysis"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/testutil"
)

// morningStarSeries is a short decline ending in a textbook morning star.
func morningStarSeries() []models.Candle {
	var candles []models.Candle
	for i, c := range []float64{120, 118, 116, 114, 112} {
		candles = append(candles, testutil.Bar(i, c+2, c+2.5, c-0.5, c, 1000))
	}
	return append(candles,
		testutil.Bar(5, 110, 110.5, 99.5, 100, 1000),
		testutil.Bar(6, 99, 99.5, 98, 98.6, 1000),
		testutil.Bar(7, 99, 106.5, 98.8, 106, 1000),
	)
}

// breakoutSeries ranges between 99 and 101 before closing at 105 on the given volume.
func breakoutSeries(lastVolume float64) []models.Candle {
	var candles []models.Candle
	for i := 0; i < 29; i++ {
		candles = append(candles, testutil.Bar(i, 100, 101, 99, 100, 1000))
	}
	return append(candles, testutil.Bar(29, 100, 105.5, 99.8, 105, lastVolume))
}

func findType(patterns []analysis.Pattern, t analysis.PatternType) *analysis.Pattern {
	for i := range patterns {
		if patterns[i].Type == t {
			return &patterns[i]
		}
	}
	return nil
}

func TestCandlestickDetector_MorningStar(t *testing.T) {
	found, err := NewCandlestickDetector(5).Detect(morningStarSeries())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := findType(found, analysis.MorningStar)
	if p == nil {
		t.Fatalf("expected a morning star, got %+v", found)
	}
	if p.Signal != analysis.SignalBullish || p.Bias != analysis.BiasBullish {
		t.Errorf("expected bullish morning star, got signal %s bias %s", p.Signal, p.Bias)
	}
	if p.StartIndex != 5 || p.EndIndex != 7 {
		t.Errorf("expected span 5..7, got %d..%d", p.StartIndex, p.EndIndex)
	}
	if p.Category != analysis.CategoryCandlestick {
		t.Errorf("expected candlestick category, got %s", p.Category)
	}
}

func TestDetector_MorningStarScoredIntoHighConfidence(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	res := d.Detect(morningStarSeries())

	p := findType(res.HighConfidence, analysis.MorningStar)
	if p == nil {
		t.Fatalf("expected morning star in high confidence subset, got %+v", res.Patterns)
	}
	// Flat volume scores 80 x 0.9.
	if math.Abs(p.Confidence-72) > 1e-9 {
		t.Errorf("expected confidence 72, got %.2f", p.Confidence)
	}
	if p.VolumeRatio != 1 {
		t.Errorf("expected volume ratio 1, got %.2f", p.VolumeRatio)
	}
}

func TestVolumeMultiplier(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{ratio: 2.0, want: 1.2},
		{ratio: 1.5, want: 1.1},
		{ratio: 1.2, want: 1.1},
		{ratio: 1.0, want: 0.9},
		{ratio: 0.4, want: 0.9},
	}
	for _, tt := range tests {
		if got := VolumeMultiplier(tt.ratio, 1.5); got != tt.want {
			t.Errorf("VolumeMultiplier(%.1f) = %.1f, want %.1f", tt.ratio, got, tt.want)
		}
	}
}

func TestDetector_ScoreCapsAtMaximum(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	candles := breakoutSeries(3000)
	p := newPattern(candles, analysis.HeadAndShoulders, 20, 29, 85, analysis.SignalBearish, analysis.BiasBearish)

	scored := d.Score(p, candles)
	if scored.Confidence != 95 {
		t.Errorf("expected confidence capped at 95, got %.2f", scored.Confidence)
	}
	if p.Confidence != 85 {
		t.Error("Score must not mutate its input")
	}
}

type boostEnricher struct{ delta float64 }

func (b boostEnricher) Enrich(p analysis.Pattern) analysis.Pattern {
	p.Confidence += b.delta
	p.EntryGuidance = "enriched"
	return p
}

func TestDetector_EnrichmentIsClamped(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), WithEnricher(boostEnricher{delta: 50}))
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	candles := breakoutSeries(3000)
	p := newPattern(candles, analysis.ResistanceBreakout, 28, 29, 78, analysis.SignalBullish, analysis.BiasBullish)

	scored := d.Score(p, candles)
	if scored.Confidence != 100 {
		t.Errorf("expected confidence clamped to 100, got %.2f", scored.Confidence)
	}
	if scored.EntryGuidance != "enriched" {
		t.Error("expected enrichment to apply")
	}
}

func TestRegistry_Validate(t *testing.T) {
	if err := DefaultRegistry(DefaultConfig()).Validate(); err != nil {
		t.Fatalf("default registry should validate: %v", err)
	}

	missing := DefaultRegistry(DefaultConfig())
	delete(missing, analysis.CategoryGap)
	err := missing.Validate()
	if err == nil {
		t.Fatal("expected error for missing category")
	}
	if !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}

	misfiled := DefaultRegistry(DefaultConfig())
	misfiled[analysis.CategoryGap] = NewBreakoutDetector(1.5)
	if err := misfiled.Validate(); err == nil {
		t.Error("expected error for detector registered under the wrong category")
	}

	if _, err := NewDetector(DefaultConfig(), WithRegistry(missing)); err == nil {
		t.Error("NewDetector should reject an incomplete registry")
	}
}

type panicDetector struct{}

func (panicDetector) Name() string                { return "panicDetector" }
func (panicDetector) Category() analysis.Category { return analysis.CategoryCandlestick }
func (panicDetector) Detect([]models.Candle) ([]analysis.Pattern, error) { panic("boom") }

func TestDetector_PanicIsolatedToOneCategory(t *testing.T) {
	registry := DefaultRegistry(DefaultConfig())
	registry[analysis.CategoryCandlestick] = panicDetector{}

	d, err := NewDetector(DefaultConfig(), WithRegistry(registry))
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	res := d.Detect(breakoutSeries(3000))
	if findType(res.Patterns, analysis.ResistanceBreakout) == nil {
		t.Errorf("expected breakout despite the failing candlestick detector, got %+v", res.Patterns)
	}
	for _, p := range res.Patterns {
		if p.Category == analysis.CategoryCandlestick {
			t.Errorf("unexpected candlestick pattern %s", p.Type)
		}
	}
}

func TestDetector_ShortSeriesNoTriangles(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	closes := make([]float64, 24)
	for i := range closes {
		amp := float64(24-i) / 4
		if i%2 == 0 {
			closes[i] = 100 + amp
		} else {
			closes[i] = 100 - amp
		}
	}

	res := d.Detect(testutil.FromCloses(closes, 1000))
	for _, p := range res.Patterns {
		switch p.Type {
		case analysis.AscendingTriangle, analysis.DescendingTriangle, analysis.SymmetricalTriangle:
			t.Errorf("unexpected triangle on %d candles: %s", len(closes), p.Type)
		}
	}
}

func TestDetector_EmptyInput(t *testing.T) {
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	res := d.Detect(nil)
	if len(res.Patterns) != 0 || len(res.HighConfidence) != 0 {
		t.Errorf("expected no patterns, got %+v", res)
	}
}

// Property: every reported confidence lies within [min_confidence, 100] and results are ordered.
func TestProperty_ConfidenceWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	cfg := DefaultConfig()
	d, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	properties.Property("confidence bounded and sorted", prop.ForAll(
		func(candles []models.Candle) bool {
			res := d.Detect(candles)
			for i, p := range res.Patterns {
				if p.Confidence < cfg.MinConfidence || p.Confidence > 100 {
					return false
				}
				if i > 0 && res.Patterns[i-1].Confidence < p.Confidence {
					return false
				}
			}
			for _, p := range res.HighConfidence {
				if p.Confidence < cfg.HighConfidence {
					return false
				}
			}
			return true
		},
		testutil.CandleSeriesGen(1, 150),
	))

	properties.TestingRun(t)
}

// Property: detection is deterministic for the same input.
func TestProperty_DetectDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	d, err := NewDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	properties.Property("same candles give same ids", prop.ForAll(
		func(candles []models.Candle) bool {
			a, b := d.Detect(candles), d.Detect(candles)
			if len(a.Patterns) != len(b.Patterns) {
				return false
			}
			for i := range a.Patterns {
				if a.Patterns[i].ID != b.Patterns[i].ID || a.Patterns[i].Confidence != b.Patterns[i].Confidence {
					return false
				}
			}
			return true
		},
		testutil.CandleSeriesGen(20, 120),
	))

	properties.TestingRun(t)
}
