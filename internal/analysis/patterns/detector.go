// Package patterns provides candlestick, chart and price-action pattern detection
// and the confidence model that scores them.
package patterns

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/analysis/indicators"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/logging"
	"pattern-tracker/internal/models"
)

// Config holds the scoring and filtering thresholds.
type Config struct {
	MinConfidence      float64 // patterns below are dropped
	HighConfidence     float64 // patterns at or above form the primary subset
	MaxConfidence      float64 // cap applied after the volume multiplier
	VolumeLookback     int
	VolumeConfirmRatio float64
	CandleLookback     int // trailing bars scanned for candlestick formations
}

// DefaultConfig returns the default detection configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      55,
		HighConfidence:     65,
		MaxConfidence:      95,
		VolumeLookback:     20,
		VolumeConfirmRatio: 1.5,
		CandleLookback:     5,
	}
}

// Enricher attaches knowledge-base statistics and guidance to a scored pattern.
type Enricher interface {
	Enrich(p analysis.Pattern) analysis.Pattern
}

// Registry maps each pattern category to the detector that handles it.
type Registry map[analysis.Category]analysis.PatternDetector

// DefaultRegistry returns one detector per category.
func DefaultRegistry(cfg Config) Registry {
	return Registry{
		analysis.CategoryCandlestick: NewCandlestickDetector(cfg.CandleLookback),
		analysis.CategoryChart:       NewChartPatternDetector(),
		analysis.CategoryGap:         NewGapDetector(),
		analysis.CategoryBreakout:    NewBreakoutDetector(cfg.VolumeConfirmRatio),
	}
}

// Validate checks that every category has a detector registered under its own key.
func (r Registry) Validate() error {
	for _, c := range analysis.AllCategories {
		d, ok := r[c]
		if !ok || d == nil {
			return apperrors.NewValidationError("registry", c, "no detector registered")
		}
		if d.Category() != c {
			return apperrors.NewValidationError("registry", c, fmt.Sprintf("detector %s handles %s", d.Name(), d.Category()))
		}
	}
	return nil
}

// Result holds one detection pass.
type Result struct {
	Patterns       []analysis.Pattern `json:"patterns"`
	HighConfidence []analysis.Pattern `json:"high_confidence"`
}

// Detector runs every registered category detector and scores the merged result.
type Detector struct {
	cfg      Config
	registry Registry
	enricher Enricher
	logger   zerolog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithEnricher sets the knowledge-base enricher.
func WithEnricher(e Enricher) Option {
	return func(d *Detector) { d.enricher = e }
}

// WithLogger sets the logger used for detector failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithRegistry replaces the default detector registry.
func WithRegistry(r Registry) Option {
	return func(d *Detector) { d.registry = r }
}

// NewDetector creates a pattern detector. It fails when the registry leaves a category uncovered.
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	d := &Detector{
		cfg:      cfg,
		registry: DefaultRegistry(cfg),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.registry.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Detect runs all detectors over candles. A failing detector contributes nothing and is logged.
func (d *Detector) Detect(candles []models.Candle) Result {
	byID := make(map[string]analysis.Pattern)
	var order []string

	for _, category := range analysis.AllCategories {
		found, err := d.runDetector(d.registry[category], candles)
		if err != nil {
			logging.LogDetectorFailure(d.logger, string(category), err)
			continue
		}
		for _, p := range found {
			scored := d.Score(p, candles)
			if scored.Confidence < d.cfg.MinConfidence {
				continue
			}
			prev, seen := byID[scored.ID]
			if !seen {
				order = append(order, scored.ID)
			}
			if !seen || scored.Confidence > prev.Confidence {
				byID[scored.ID] = scored
			}
		}
	}

	var res Result
	for _, id := range order {
		res.Patterns = append(res.Patterns, byID[id])
	}
	sort.SliceStable(res.Patterns, func(i, j int) bool {
		a, b := res.Patterns[i], res.Patterns[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.EndIndex != b.EndIndex {
			return a.EndIndex > b.EndIndex
		}
		return a.ID < b.ID
	})
	for _, p := range res.Patterns {
		if p.Confidence >= d.cfg.HighConfidence {
			res.HighConfidence = append(res.HighConfidence, p)
		}
	}
	return res
}

// runDetector isolates a single detector so a panic only loses that category.
func (d *Detector) runDetector(det analysis.PatternDetector, candles []models.Candle) (found []analysis.Pattern, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = apperrors.NewDetectorError(det.Name(), fmt.Errorf("panic: %v", r))
		}
	}()
	found, err = det.Detect(candles)
	if err != nil {
		return nil, apperrors.NewDetectorError(det.Name(), err)
	}
	return found, nil
}

// Score applies the volume multiplier and cap to a detector's base confidence, then enrichment.
func (d *Detector) Score(p analysis.Pattern, candles []models.Candle) analysis.Pattern {
	out := p.Clone()
	ratio := indicators.VolumeRatio(candles, p.EndIndex, d.cfg.VolumeLookback)
	out.VolumeRatio = ratio

	conf := p.Confidence * VolumeMultiplier(ratio, d.cfg.VolumeConfirmRatio)
	if conf > d.cfg.MaxConfidence {
		conf = d.cfg.MaxConfidence
	}
	out.Confidence = analysis.ClampConfidence(conf)

	if d.enricher != nil {
		out = d.enricher.Enrich(out)
		out.Confidence = analysis.ClampConfidence(out.Confidence)
	}
	return out
}

// VolumeMultiplier maps a volume ratio to the confidence multiplier.
func VolumeMultiplier(ratio, confirmRatio float64) float64 {
	switch {
	case ratio > confirmRatio:
		return 1.2
	case ratio > 1.0:
		return 1.1
	default:
		return 0.9
	}
}

// newPattern fills the identity and position fields shared by every detector.
func newPattern(candles []models.Candle, t analysis.PatternType, start, end int, base float64, signal analysis.Signal, bias analysis.Bias) analysis.Pattern {
	return analysis.Pattern{
		ID:         analysis.PatternID(t, candles[start].Timestamp, candles[end].Timestamp),
		Type:       t,
		Category:   t.Category(),
		Confidence: base,
		StartIndex: start,
		EndIndex:   end,
		StartTime:  candles[start].Timestamp,
		EndTime:    candles[end].Timestamp,
		StartPrice: candles[start].Close,
		EndPrice:   candles[end].Close,
		Signal:     signal,
		Bias:       bias,
		Action:     analysis.ActionWatch,
		Metadata:   map[string]interface{}{},
	}
}

// Filter returns the patterns at or above minConfidence.
func Filter(patterns []analysis.Pattern, minConfidence float64) []analysis.Pattern {
	var out []analysis.Pattern
	for _, p := range patterns {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out
}
