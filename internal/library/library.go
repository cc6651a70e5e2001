// Package library holds the pattern knowledge base: recognition rules, historical statistics
// and trading playbooks keyed by pattern type.
package library

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/viper"

	"pattern-tracker/internal/analysis"
	apperrors "pattern-tracker/internal/errors"
)

// DefaultPath is the library file shipped with the module.
const DefaultPath = "data/pattern_library.json"

// maxAdjustment bounds the confidence change applied by enrichment.
const maxAdjustment = 10.0

// Statistics holds historical performance for a pattern type.
type Statistics struct {
	SuccessRate     float64 `mapstructure:"success_rate" json:"success_rate"`
	AvgGainPct      float64 `mapstructure:"avg_gain_pct" json:"avg_gain_pct"`
	AvgLossPct      float64 `mapstructure:"avg_loss_pct" json:"avg_loss_pct"`
	SampleSize      int     `mapstructure:"sample_size" json:"sample_size"`
	AvgDurationBars int     `mapstructure:"avg_duration_bars" json:"avg_duration_bars"`
}

// Playbook holds trade guidance text.
type Playbook struct {
	Entry    string `mapstructure:"entry" json:"entry"`
	StopLoss string `mapstructure:"stop_loss" json:"stop_loss"`
	Target   string `mapstructure:"target" json:"target"`
}

// Entry is the knowledge-base record for one pattern type.
type Entry struct {
	Type        analysis.PatternType `mapstructure:"-" json:"type"`
	Name        string               `mapstructure:"name" json:"name"`
	Description string               `mapstructure:"description" json:"description"`
	Recognition []string             `mapstructure:"recognition" json:"recognition"`
	Statistics  Statistics           `mapstructure:"statistics" json:"statistics"`
	Playbook    Playbook             `mapstructure:"playbook" json:"playbook"`
}

// Library is an immutable lookup of entries. It is safe for concurrent use.
type Library struct {
	entries map[analysis.PatternType]Entry
}

type libraryFile struct {
	Version  int              `mapstructure:"version"`
	Patterns map[string]Entry `mapstructure:"patterns"`
}

// Load reads the knowledge base from a JSON file. Any failure wraps ErrLibraryLoad.
func Load(path string) (*Library, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrLibraryLoad, path, err)
	}

	var file libraryFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", apperrors.ErrLibraryLoad, path, err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("%w: %s has no patterns", apperrors.ErrLibraryLoad, path)
	}

	entries := make(map[analysis.PatternType]Entry, len(file.Patterns))
	for key, e := range file.Patterns {
		t := analysis.PatternType(key)
		if !t.Known() {
			return nil, fmt.Errorf("%w: unknown pattern type %q", apperrors.ErrLibraryLoad, key)
		}
		if e.Statistics.SuccessRate < 0 || e.Statistics.SuccessRate > 1 {
			return nil, fmt.Errorf("%w: %s success_rate %.2f outside [0,1]", apperrors.ErrLibraryLoad, key, e.Statistics.SuccessRate)
		}
		e.Type = t
		entries[t] = e
	}
	return New(entries), nil
}

// New builds a library from entries. The map is copied.
func New(entries map[analysis.PatternType]Entry) *Library {
	copied := make(map[analysis.PatternType]Entry, len(entries))
	for t, e := range entries {
		e.Type = t
		copied[t] = e
	}
	return &Library{entries: copied}
}

// Lookup returns the entry for a pattern type.
func (l *Library) Lookup(t analysis.PatternType) (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	e, ok := l.entries[t]
	return e, ok
}

// Types returns the covered pattern types in sorted order.
func (l *Library) Types() []analysis.PatternType {
	out := make([]analysis.PatternType, 0, len(l.entries))
	for t := range l.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of entries.
func (l *Library) Len() int {
	return len(l.entries)
}

// Adjustment converts a historical success rate into a bounded confidence delta.
// A 50% success rate leaves confidence unchanged.
func Adjustment(successRate float64) float64 {
	adj := (successRate - 0.5) * 20
	return math.Max(-maxAdjustment, math.Min(maxAdjustment, adj))
}

// Enrich applies historical statistics and playbook guidance. Types without an entry pass through unchanged.
func (l *Library) Enrich(p analysis.Pattern) analysis.Pattern {
	e, ok := l.Lookup(p.Type)
	if !ok {
		return p
	}

	out := p.Clone()
	out.Confidence = analysis.ClampConfidence(out.Confidence + Adjustment(e.Statistics.SuccessRate))
	out.EntryGuidance = e.Playbook.Entry
	out.StopGuidance = e.Playbook.StopLoss
	out.TargetGuidance = e.Playbook.Target
	if out.Description == "" {
		out.Description = e.Description
	}
	if out.Metadata == nil {
		out.Metadata = map[string]interface{}{}
	}
	out.Metadata["historical_success_rate"] = e.Statistics.SuccessRate
	out.Metadata["historical_sample_size"] = e.Statistics.SampleSize
	return out
}
