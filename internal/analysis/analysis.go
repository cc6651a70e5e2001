// Package analysis defines the value types produced by the detection pipeline:
// pivots, trendlines, key levels and detected patterns.
package analysis

import (
	"fmt"
	"math"
	"time"

	"pattern-tracker/internal/models"
)

// PatternDetector defines the interface for a single category of pattern heuristics.
type PatternDetector interface {
	Name() string
	Category() Category
	Detect(candles []models.Candle) ([]Pattern, error)
}

// Category is the closed set of pattern families. Each has exactly one registered detector.
type Category string

const (
	CategoryCandlestick Category = "candlestick"
	CategoryChart       Category = "chart"
	CategoryGap         Category = "gap"
	CategoryBreakout    Category = "breakout"
)

// AllCategories lists every category in registry order.
var AllCategories = []Category{CategoryCandlestick, CategoryChart, CategoryGap, CategoryBreakout}

// Signal is the trading interpretation of a pattern.
type Signal string

const (
	SignalBullish      Signal = "bullish"
	SignalBearish      Signal = "bearish"
	SignalNeutral      Signal = "neutral"
	SignalContinuation Signal = "continuation"
)

// Bias is the directional lean of a pattern, used by the lifecycle rules.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// Action is the recommended next step attached to a pattern.
type Action string

const (
	ActionWatch               Action = "watch"
	ActionWaitForConfirmation Action = "wait_for_confirmation"
	ActionEnterLong           Action = "enter_long"
	ActionEnterShort          Action = "enter_short"
	ActionTakeProfit          Action = "take_profit"
	ActionHold                Action = "hold"
)

// ImpliesEntry reports whether the action asks for an immediate position.
func (a Action) ImpliesEntry() bool {
	return a == ActionEnterLong || a == ActionEnterShort
}

// ImpliesProfitTaking reports whether the action closes out a move.
func (a Action) ImpliesProfitTaking() bool {
	return a == ActionTakeProfit
}

// Pattern is a detected formation. Optional price fields are nil when the detector has no opinion.
type Pattern struct {
	ID          string      `json:"pattern_id"`
	Type        PatternType `json:"pattern_type"`
	Category    Category    `json:"category"`
	Confidence  float64     `json:"confidence"`
	StartIndex  int         `json:"start_candle"`
	EndIndex    int         `json:"end_candle"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	StartPrice  float64     `json:"start_price"`
	EndPrice    float64     `json:"end_price"`
	Signal      Signal      `json:"signal"`
	Bias        Bias        `json:"bias"`
	Action      Action      `json:"recommended_action"`
	VolumeRatio float64     `json:"volume_ratio"`
	Description string      `json:"description,omitempty"`

	Target     *float64 `json:"target,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	Support    *float64 `json:"support,omitempty"`
	Resistance *float64 `json:"resistance,omitempty"`

	EntryGuidance  string `json:"entry_guidance,omitempty"`
	StopGuidance   string `json:"stop_guidance,omitempty"`
	TargetGuidance string `json:"target_guidance,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no mutable state with p.
func (p Pattern) Clone() Pattern {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// PatternID builds the deterministic identifier for a pattern type spanning two bar times.
// The format avoids ':' so identifiers embed cleanly in chart commands.
func PatternID(t PatternType, start, end time.Time) string {
	return fmt.Sprintf("%s_%d_%d", t, start.Unix(), end.Unix())
}

// ClampConfidence bounds a confidence score to [0, 100].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Price returns a pointer to v for optional price fields.
func Price(v float64) *float64 {
	return &v
}

// PositivePrice is Price for projected levels. A projection at or below zero is left unset.
func PositivePrice(v float64) *float64 {
	if !(v > 0) || math.IsInf(v, 1) {
		return nil
	}
	return &v
}

// PivotPoint is a confirmed local extremum.
type PivotPoint struct {
	Index     int       `json:"index"`
	Price     float64   `json:"price"`
	IsHigh    bool      `json:"is_high"`
	Timestamp time.Time `json:"timestamp"`
}

// LinePoint anchors one end of a trendline.
type LinePoint struct {
	Index int       `json:"index"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Trendline is a fitted line through same-type pivots.
type Trendline struct {
	Kind      LevelType `json:"kind"`
	Start     LinePoint `json:"start"`
	End       LinePoint `json:"end"`
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	Touches   int       `json:"touches"`
	Label     string    `json:"label"`
	Style     string    `json:"style"`
}

// PriceAt returns the line value at a bar index.
func (t Trendline) PriceAt(index int) float64 {
	return t.Slope*float64(index) + t.Intercept
}

// Level represents a horizontal support or resistance level.
type Level struct {
	Price      float64   `json:"price"`
	Type       LevelType `json:"type"`
	Strength   int       `json:"strength"`
	TouchCount int       `json:"touches"`
	Source     string    `json:"source"`
}

// LevelType represents the type of price level.
type LevelType string

const (
	LevelSupport    LevelType = "support"
	LevelResistance LevelType = "resistance"
)

// KeyLevelKind names a canonical trading reference price.
type KeyLevelKind string

const (
	KeyLevelBuyLow    KeyLevelKind = "buy_low"
	KeyLevelSellHigh  KeyLevelKind = "sell_high"
	KeyLevelBuyTheDip KeyLevelKind = "buy_the_dip"
	KeyLevelPriorHigh KeyLevelKind = "prior_high"
	KeyLevelPriorLow  KeyLevelKind = "prior_low"
)

// KeyLevel is a horizontal reference drawn across the visible window.
type KeyLevel struct {
	Kind      KeyLevelKind `json:"kind"`
	Price     float64      `json:"price"`
	Label     string       `json:"label"`
	Style     string       `json:"style"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
}
