package pipeline

import (
	"context"

	"pattern-tracker/internal/lifecycle"
)

// Report is the combined output of an analysis cycle and the lifecycle evaluation that follows it.
type Report struct {
	Analysis          *AnalysisResult          `json:"analysis"`
	Lifecycle         lifecycle.EvaluateResult `json:"lifecycle"`
	StructureCommands []string                 `json:"structure_commands"`
}

// Tracker feeds analysis results into a lifecycle manager.
type Tracker struct {
	analyzer *Analyzer
	manager  *lifecycle.Manager
	sink     lifecycle.CommandSink
}

// NewTracker creates a tracker. sink, when non-nil, also receives the trendline
// and key-level drawings of every cycle.
func NewTracker(analyzer *Analyzer, manager *lifecycle.Manager, sink lifecycle.CommandSink) *Tracker {
	return &Tracker{analyzer: analyzer, manager: manager, sink: sink}
}

// Analyzer returns the underlying analyzer.
func (t *Tracker) Analyzer() *Analyzer { return t.analyzer }

// Manager returns the underlying lifecycle manager.
func (t *Tracker) Manager() *lifecycle.Manager { return t.manager }

// Evaluate analyses req and evaluates the detected patterns at price. A
// non-positive price uses the last close of the series.
func (t *Tracker) Evaluate(ctx context.Context, req Request, price float64) (*Report, error) {
	res, err := t.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		price = res.LastPrice
	}

	structure := append(lifecycle.TrendlineCommands(req.Symbol, res.Trendlines),
		lifecycle.KeyLevelCommands(req.Symbol, res.KeyLevels)...)
	if structure == nil {
		structure = []string{}
	}
	if t.sink != nil && len(structure) > 0 {
		t.sink.Publish(req.Symbol, string(req.Timeframe), structure)
	}

	return &Report{
		Analysis:          res,
		Lifecycle:         t.manager.Evaluate(ctx, req.Symbol, string(req.Timeframe), price, res.Patterns),
		StructureCommands: structure,
	}, nil
}
