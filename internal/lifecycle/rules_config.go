package lifecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"pattern-tracker/internal/analysis"
)

// RulesTemplate is written by WriteRulesTemplate. Category sections override the
// compiled-in family defaults; [rules.<pattern_type>] sections override single types.
const RulesTemplate = `# Pattern lifecycle rules
# invalidation_breach below 1 is a fraction (0.03 = 3%), 1 or above is a factor (1.05).

[categories.candlestick]
target_hit_threshold = 0.98
confidence_decay_rate = 1.0
max_duration_hours = 48
invalidation_breach = 0.02
min_confidence = 40

[categories.chart]
target_hit_threshold = 0.98
confidence_decay_rate = 0.25
max_duration_hours = 240
invalidation_breach = 0.03
min_confidence = 40

[categories.gap]
target_hit_threshold = 0.98
confidence_decay_rate = 0.5
max_duration_hours = 72
invalidation_breach = 0.02
min_confidence = 40

[categories.breakout]
target_hit_threshold = 0.98
confidence_decay_rate = 0.5
max_duration_hours = 96
invalidation_breach = 0.015
min_confidence = 40

# Per-type overrides, for example:
# [rules.head_and_shoulders]
# invalidation_breach = 1.05
`

// LoadRuleConfig reads rules from a TOML file. A missing file yields the defaults.
// A malformed file or section falls back to the defaults with a warning; loading
// never fails.
func LoadRuleConfig(path string, logger zerolog.Logger) RuleSet {
	rules := DefaultRuleSet()
	if path == "" {
		return rules
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Debug().Str("path", path).Msg("Rule file not found, using defaults")
		return rules
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Malformed rule file, using defaults")
		return DefaultRuleSet()
	}

	for _, name := range sortedKeys(v.GetStringMap("categories")) {
		cat := analysis.Category(name)
		base, ok := categoryDefaults[cat]
		if !ok {
			logger.Warn().Str("category", name).Msg("Unknown category in rule file, skipping")
			continue
		}
		cfg, err := decodeRule(v, "categories."+name, base)
		if err != nil {
			logger.Warn().Err(err).Str("category", name).Msg("Invalid category rule, keeping defaults")
			continue
		}
		for _, t := range analysis.TypesIn(cat) {
			rules[t] = cfg
		}
	}

	for _, name := range sortedKeys(v.GetStringMap("rules")) {
		t := analysis.PatternType(name)
		base, ok := rules[t]
		if !ok {
			logger.Warn().Str("pattern_type", name).Msg("Unknown pattern type in rule file, skipping")
			continue
		}
		cfg, err := decodeRule(v, "rules."+name, base)
		if err != nil {
			logger.Warn().Err(err).Str("pattern_type", name).Msg("Invalid pattern rule, keeping defaults")
			continue
		}
		rules[t] = cfg
	}

	return rules
}

// decodeRule overlays the keys under key onto base and validates the result.
func decodeRule(v *viper.Viper, key string, base RuleConfig) (RuleConfig, error) {
	cfg := base
	if err := v.UnmarshalKey(key, &cfg); err != nil {
		return base, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// WriteRulesTemplate writes RulesTemplate to path unless a file already exists.
func WriteRulesTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(RulesTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write rules template: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
