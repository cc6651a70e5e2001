package lifecycle

import (
	"reflect"
	"testing"
	"time"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/models"
)

func TestCommandFormats(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := time.Unix(1700086400, 0).UTC()
	line := analysis.Trendline{
		Kind:  analysis.LevelSupport,
		Start: analysis.LinePoint{Price: 101.5, Time: t0},
		End:   analysis.LinePoint{Price: 104.25, Time: t1},
		Style: "dashed",
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"annotate", AnnotateCommand("hs_1", models.StatusPending, ""), "ANNOTATE:PATTERN:hs_1:pending"},
		{"annotate text", AnnotateCommand("hs_1", models.StatusConfirmed, "head and shoulders: 80%"), "ANNOTATE:PATTERN:hs_1:confirmed:head and shoulders  80%"},
		{"level", LevelCommand("hs_1", "resistance", 100), "DRAW:LEVEL:hs_1:resistance:100"},
		{"trendline", TrendlineCommand("ACME_support_0", line), "DRAW:TRENDLINE:ACME_support_0:1700000000:101.5:1700086400:104.25:dashed"},
		{"target", TargetCommand("hs_1", 89.955), "DRAW:TARGET:hs_1:89.955"},
		{"clear", ClearCommand("hs_1"), "CLEAR:PATTERN:hs_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestKeyLevelCommands(t *testing.T) {
	levels := []analysis.KeyLevel{
		{Kind: analysis.KeyLevelBuyLow, Price: 95},
		{Kind: analysis.KeyLevelSellHigh, Price: 110.5},
	}
	want := []string{"DRAW:LEVEL:ACME_buy_low:buy_low:95", "DRAW:LEVEL:ACME_sell_high:sell_high:110.5"}
	if got := KeyLevelCommands("ACME", levels); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCommandList_DeduplicatesInOrder(t *testing.T) {
	var c commandList
	c.add("A", "B")
	c.add("A", "C", "B")
	if got := c.list(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("unexpected command list %v", got)
	}

	var empty commandList
	if got := empty.list(); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %v", got)
	}
}
