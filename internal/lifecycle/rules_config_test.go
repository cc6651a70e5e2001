package lifecycle

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"pattern-tracker/internal/analysis"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLoadRuleConfig_MissingFileUsesDefaults(t *testing.T) {
	rules := LoadRuleConfig(filepath.Join(t.TempDir(), "absent.toml"), zerolog.Nop())
	if !reflect.DeepEqual(rules, DefaultRuleSet()) {
		t.Error("expected default rules for a missing file")
	}
}

func TestLoadRuleConfig_Overrides(t *testing.T) {
	path := writeRules(t, `
[categories.gap]
max_duration_hours = 12

[rules.head_and_shoulders]
invalidation_breach = 1.05
min_confidence = 30

[rules.not_a_pattern]
min_confidence = 10
`)
	rules := LoadRuleConfig(path, zerolog.Nop())
	defaults := DefaultRuleSet()

	hs := rules[analysis.HeadAndShoulders]
	if hs.InvalidationBreach != 1.05 || hs.MinConfidence != 30 {
		t.Errorf("override not applied: %+v", hs)
	}
	if hs.MaxDurationHours != defaults[analysis.HeadAndShoulders].MaxDurationHours {
		t.Errorf("unset keys must keep defaults, got %+v", hs)
	}
	for _, pt := range analysis.TypesIn(analysis.CategoryGap) {
		if rules[pt].MaxDurationHours != 12 {
			t.Errorf("category override missing for %s", pt)
		}
	}
	if _, ok := rules["not_a_pattern"]; ok {
		t.Error("unknown pattern types must be skipped")
	}
}

func TestLoadRuleConfig_MalformedFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken toml", "[rules.head_and_shoulders\nmin_confidence = "},
		{"invalid value", "[rules.head_and_shoulders]\nmin_confidence = 150\n"},
		{"wrong type", "[rules.head_and_shoulders]\nmin_confidence = \"high\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := LoadRuleConfig(writeRules(t, tt.content), zerolog.Nop())
			if got, want := rules[analysis.HeadAndShoulders], DefaultRuleSet()[analysis.HeadAndShoulders]; got != want {
				t.Errorf("expected default rule, got %+v", got)
			}
		})
	}
}

func TestWriteRulesTemplate_LoadsAsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "rules.toml")
	if err := WriteRulesTemplate(path); err != nil {
		t.Fatalf("WriteRulesTemplate: %v", err)
	}
	rules := LoadRuleConfig(path, zerolog.Nop())
	if !reflect.DeepEqual(rules, DefaultRuleSet()) {
		t.Error("template should reproduce the compiled-in defaults")
	}

	// An existing file is left alone.
	if err := os.WriteFile(path, []byte("# custom\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteRulesTemplate(path); err != nil {
		t.Fatalf("WriteRulesTemplate: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "# custom\n" {
		t.Error("existing rules file was overwritten")
	}
}
