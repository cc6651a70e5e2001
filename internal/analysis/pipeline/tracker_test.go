package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/store"
)

type captureSink struct {
	mu       sync.Mutex
	commands []string
}

func (s *captureSink) Publish(symbol, timeframe string, commands []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, commands...)
}

func newTestTracker(t *testing.T, sink lifecycle.CommandSink) (*Tracker, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemoryStore()
	m, err := lifecycle.NewManager(lifecycle.DefaultConfig(), nil, lifecycle.WithRepository(repo))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return NewTracker(newTestAnalyzer(t), m, sink), repo
}

func TestTracker_EvaluateTracksDetectedPatterns(t *testing.T) {
	sink := &captureSink{}
	tr, repo := newTestTracker(t, sink)
	candles := zigzag(120)

	rep, err := tr.Evaluate(context.Background(), Request{Symbol: "ACME", Timeframe: models.Timeframe1H, Candles: candles}, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	tracked := len(rep.Lifecycle.States)
	if tracked != len(rep.Analysis.Patterns) {
		t.Errorf("expected %d tracked states, got %d", len(rep.Analysis.Patterns), tracked)
	}
	if repo.Len() != tracked {
		t.Errorf("expected %d repository records, got %d", tracked, repo.Len())
	}
	for _, c := range rep.StructureCommands {
		if !strings.HasPrefix(c, "DRAW:") {
			t.Errorf("unexpected structure command %q", c)
		}
	}
	if len(sink.commands) != len(rep.StructureCommands) {
		t.Errorf("sink got %d commands, want %d", len(sink.commands), len(rep.StructureCommands))
	}
}

func TestTracker_EvaluateRejectsBadInput(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	_, err := tr.Evaluate(context.Background(), Request{Symbol: "ACME", Timeframe: models.Timeframe1H}, 100)
	if !errors.Is(err, apperrors.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if got := tr.Manager().States("ACME", "1H"); len(got) != 0 {
		t.Errorf("failed analysis must not touch lifecycle state, got %d states", len(got))
	}
}
