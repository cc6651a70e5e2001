// Package lifecycle tracks detected patterns through pending, confirmed and terminal
// states as price and time evolve, and emits chart commands for each transition.
package lifecycle

import (
	"fmt"
	"math"
	"sort"
	"time"

	"pattern-tracker/internal/analysis"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
)

// Evaluation reasons.
const (
	ReasonActive             = "active"
	ReasonNoRule             = "no_rule"
	ReasonExpiredByTime      = "expired_by_time"
	ReasonLowConfidence      = "low_confidence"
	ReasonTargetReached      = "target_reached"
	ReasonSupportBreached    = "support_breached"
	ReasonResistanceBreached = "resistance_breached"
	ReasonConfirmed          = "confirmed"
	ReasonProfitTaking       = "profit_taking"
	ReasonMissed             = "missed"
)

// RuleConfig holds the lifecycle thresholds for one pattern type.
type RuleConfig struct {
	TargetHitThreshold  float64 `mapstructure:"target_hit_threshold" json:"target_hit_threshold"`
	ConfidenceDecayRate float64 `mapstructure:"confidence_decay_rate" json:"confidence_decay_rate"`
	MaxDurationHours    float64 `mapstructure:"max_duration_hours" json:"max_duration_hours"`
	InvalidationBreach  float64 `mapstructure:"invalidation_breach" json:"invalidation_breach"`
	MinConfidence       float64 `mapstructure:"min_confidence" json:"min_confidence"`
}

// Validate checks the rule thresholds.
func (c RuleConfig) Validate() error {
	if c.TargetHitThreshold <= 0 || c.TargetHitThreshold > 2 {
		return apperrors.NewValidationError("target_hit_threshold", c.TargetHitThreshold, "must be in (0, 2]")
	}
	if c.ConfidenceDecayRate < 0 {
		return apperrors.NewValidationError("confidence_decay_rate", c.ConfidenceDecayRate, "must not be negative")
	}
	if c.MaxDurationHours <= 0 {
		return apperrors.NewValidationError("max_duration_hours", c.MaxDurationHours, "must be positive")
	}
	if c.InvalidationBreach < 0 {
		return apperrors.NewValidationError("invalidation_breach", c.InvalidationBreach, "must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return apperrors.NewValidationError("min_confidence", c.MinConfidence, "must be in [0, 100]")
	}
	return nil
}

// BreachFactor returns the multiplicative breach factor. Values below 1 are
// fractions (0.05 means 5%); values of 1 or more are already factors.
func (c RuleConfig) BreachFactor() float64 {
	if c.InvalidationBreach >= 1 {
		return c.InvalidationBreach
	}
	return 1 + c.InvalidationBreach
}

// categoryDefaults are the compiled-in rules per pattern family.
var categoryDefaults = map[analysis.Category]RuleConfig{
	analysis.CategoryCandlestick: {TargetHitThreshold: 0.98, ConfidenceDecayRate: 1.0, MaxDurationHours: 48, InvalidationBreach: 0.02, MinConfidence: 40},
	analysis.CategoryChart:       {TargetHitThreshold: 0.98, ConfidenceDecayRate: 0.25, MaxDurationHours: 240, InvalidationBreach: 0.03, MinConfidence: 40},
	analysis.CategoryGap:         {TargetHitThreshold: 0.98, ConfidenceDecayRate: 0.5, MaxDurationHours: 72, InvalidationBreach: 0.02, MinConfidence: 40},
	analysis.CategoryBreakout:    {TargetHitThreshold: 0.98, ConfidenceDecayRate: 0.5, MaxDurationHours: 96, InvalidationBreach: 0.015, MinConfidence: 40},
}

// RuleSet maps each pattern type to its rules.
type RuleSet map[analysis.PatternType]RuleConfig

// DefaultRuleSet returns the compiled-in rules for every known pattern type.
func DefaultRuleSet() RuleSet {
	rules := make(RuleSet)
	for _, cat := range analysis.AllCategories {
		for _, t := range analysis.TypesIn(cat) {
			rules[t] = categoryDefaults[cat]
		}
	}
	return rules
}

// Lookup returns the rules for t.
func (r RuleSet) Lookup(t analysis.PatternType) (RuleConfig, bool) {
	cfg, ok := r[t]
	return cfg, ok
}

// Clone returns an independent copy.
func (r RuleSet) Clone() RuleSet {
	out := make(RuleSet, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Evaluation is the outcome of one rule evaluation.
type Evaluation struct {
	Previous          models.PatternStatus `json:"previous"`
	Status            models.PatternStatus `json:"status"`
	Reason            string               `json:"reason"`
	DecayedConfidence float64              `json:"decayed_confidence"`
	AgeHours          float64              `json:"age_hours"`
	Changed           bool                 `json:"changed"`
}

// RuleEngine evaluates persisted patterns against live price and time.
// It holds no mutable state and is safe for concurrent use.
type RuleEngine struct {
	rules RuleSet
}

// NewRuleEngine creates an engine over rules. A nil set uses the defaults.
func NewRuleEngine(rules RuleSet) *RuleEngine {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &RuleEngine{rules: rules.Clone()}
}

// Covers reports whether the engine has a rule for t.
func (e *RuleEngine) Covers(t analysis.PatternType) bool {
	_, ok := e.rules.Lookup(t)
	return ok
}

// Rules returns a copy of the engine's rule set.
func (e *RuleEngine) Rules() RuleSet {
	return e.rules.Clone()
}

// Evaluate decides the status of rec at price and now. A price that is not a
// positive finite number skips the breach and target checks.
func (e *RuleEngine) Evaluate(rec *models.PatternRecord, price float64, now time.Time) Evaluation {
	ev := Evaluation{
		Previous: rec.Status,
		Status:   rec.Status,
		AgeHours: math.Max(0, rec.AgeHours(now)),
	}

	if rec.Status.IsTerminal() {
		ev.Reason = rec.Reason
		ev.DecayedConfidence = rec.Confidence
		return ev
	}

	pt := analysis.PatternType(rec.PatternType)
	cfg, ok := e.rules.Lookup(pt)
	if !ok {
		ev.Reason = ReasonNoRule
		ev.DecayedConfidence = rec.Confidence
		return ev
	}

	ev.DecayedConfidence = analysis.ClampConfidence(rec.Confidence - cfg.ConfidenceDecayRate*ev.AgeHours)

	switch {
	case ev.AgeHours > cfg.MaxDurationHours:
		return ev.moveTo(models.StatusExpired, ReasonExpiredByTime)
	case ev.DecayedConfidence < cfg.MinConfidence:
		return ev.moveTo(models.StatusInvalidated, ReasonLowConfidence)
	}

	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		ev.Reason = ReasonActive
		return ev
	}

	bias := analysis.Bias(rec.Bias)
	switch pt.Class() {
	case analysis.ClassReversal:
		if reason, breached := breach(rec, bias, price, cfg); breached {
			return ev.moveTo(models.StatusInvalidated, reason)
		}
		if targetHit(rec, bias, price, cfg) {
			return ev.moveTo(models.StatusCompleted, ReasonTargetReached)
		}
	case analysis.ClassContinuation:
		if targetHit(rec, bias, price, cfg) {
			return ev.moveTo(models.StatusCompleted, ReasonTargetReached)
		}
		if reason, breached := breach(rec, bias, price, cfg); breached {
			return ev.moveTo(models.StatusInvalidated, reason)
		}
	default:
		if targetHit(rec, bias, price, cfg) {
			return ev.moveTo(models.StatusCompleted, ReasonTargetReached)
		}
	}

	ev.Reason = ReasonActive
	return ev
}

func (ev Evaluation) moveTo(status models.PatternStatus, reason string) Evaluation {
	ev.Status = status
	ev.Reason = reason
	ev.Changed = status != ev.Previous
	return ev
}

// breach reports whether price has moved through the level that protects the thesis:
// support for bullish patterns, resistance for bearish ones.
func breach(rec *models.PatternRecord, bias analysis.Bias, price float64, cfg RuleConfig) (string, bool) {
	factor := cfg.BreachFactor()
	switch bias {
	case analysis.BiasBullish:
		if rec.Support != nil && price < *rec.Support/factor {
			return ReasonSupportBreached, true
		}
	case analysis.BiasBearish:
		if rec.Resistance != nil && price > *rec.Resistance*factor {
			return ReasonResistanceBreached, true
		}
	}
	return "", false
}

func targetHit(rec *models.PatternRecord, bias analysis.Bias, price float64, cfg RuleConfig) bool {
	if rec.Target == nil {
		return false
	}
	if bias == analysis.BiasBearish {
		return price <= *rec.Target/cfg.TargetHitThreshold
	}
	return price >= *rec.Target*cfg.TargetHitThreshold
}

// Describe renders one line per rule, sorted by pattern type.
func (r RuleSet) Describe() []string {
	types := make([]string, 0, len(r))
	for t := range r {
		types = append(types, string(t))
	}
	sort.Strings(types)

	out := make([]string, 0, len(types))
	for _, name := range types {
		c := r[analysis.PatternType(name)]
		out = append(out, fmt.Sprintf("%s: target>=%.2fx decay=%.2f/h max=%.0fh breach=x%.3f min=%.0f",
			name, c.TargetHitThreshold, c.ConfidenceDecayRate, c.MaxDurationHours, c.BreachFactor(), c.MinConfidence))
	}
	return out
}
