package lifecycle

import (
	"fmt"
	"strings"

	"pattern-tracker/internal/analysis"
	"pattern-tracker/internal/models"
	"pattern-tracker/pkg/utils"
)

// AnnotateCommand labels a pattern on the chart with its status and optional text.
func AnnotateCommand(patternID string, status models.PatternStatus, text string) string {
	cmd := fmt.Sprintf("ANNOTATE:PATTERN:%s:%s", patternID, status)
	if text = sanitize(text); text != "" {
		cmd += ":" + text
	}
	return cmd
}

// LevelCommand draws a horizontal level owned by a pattern or key-level set.
func LevelCommand(id string, levelType string, price float64) string {
	return fmt.Sprintf("DRAW:LEVEL:%s:%s:%s", id, sanitize(levelType), utils.FormatPrice(price))
}

// TrendlineCommand draws a trendline between two anchors. Times are unix seconds.
func TrendlineCommand(id string, line analysis.Trendline) string {
	return fmt.Sprintf("DRAW:TRENDLINE:%s:%d:%s:%d:%s:%s", id,
		line.Start.Time.Unix(), utils.FormatPrice(line.Start.Price),
		line.End.Time.Unix(), utils.FormatPrice(line.End.Price),
		sanitize(line.Style))
}

// TargetCommand marks a pattern's price target.
func TargetCommand(patternID string, price float64) string {
	return fmt.Sprintf("DRAW:TARGET:%s:%s", patternID, utils.FormatPrice(price))
}

// ClearCommand removes everything drawn for a pattern.
func ClearCommand(patternID string) string {
	return "CLEAR:PATTERN:" + patternID
}

// TrendlineCommands renders a draw command per trendline, identified by kind and position.
func TrendlineCommands(symbol string, lines []analysis.Trendline) []string {
	out := make([]string, 0, len(lines))
	for i, l := range lines {
		out = append(out, TrendlineCommand(fmt.Sprintf("%s_%s_%d", symbol, l.Kind, i), l))
	}
	return out
}

// KeyLevelCommands renders a level command per key level.
func KeyLevelCommands(symbol string, levels []analysis.KeyLevel) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, LevelCommand(symbol+"_"+string(l.Kind), string(l.Kind), l.Price))
	}
	return out
}

// sanitize strips the field separator from free text.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, ":", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// commandList accumulates commands, dropping repeats while preserving first-seen order.
type commandList struct {
	seen  map[string]struct{}
	items []string
}

func (c *commandList) add(cmds ...string) {
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	for _, cmd := range cmds {
		if _, dup := c.seen[cmd]; dup {
			continue
		}
		c.seen[cmd] = struct{}{}
		c.items = append(c.items, cmd)
	}
}

func (c *commandList) list() []string {
	if len(c.items) == 0 {
		return []string{}
	}
	out := make([]string, len(c.items))
	copy(out, c.items)
	return out
}
