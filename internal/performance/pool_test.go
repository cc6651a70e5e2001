package performance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	pool := NewWorkerPool(3)
	pool.Start(context.Background())

	var count atomic.Int64
	for i := 0; i < 50; i++ {
		if err := pool.Submit(context.Background(), func(ctx context.Context) { count.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	pool.Stop()

	if count.Load() != 50 {
		t.Errorf("expected 50 tasks to run, got %d", count.Load())
	}
	stats := pool.Stats()
	if stats.Running || stats.TasksTotal != 50 || stats.TasksDone != 50 || stats.Workers != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1)
	if err := pool.Submit(context.Background(), func(ctx context.Context) {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped before Start, got %v", err)
	}
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
	if err := pool.Submit(context.Background(), func(ctx context.Context) {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped after Stop, got %v", err)
	}
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]int, 100)
	_, err := Map(ctx, 1, items, func(ctx context.Context, v int) int { return v })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// Property: Map returns fn applied to each item in input order regardless of worker count.
func TestProperty_MapPreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("results line up with inputs", prop.ForAll(
		func(items []int, workers int) bool {
			got, err := Map(context.Background(), workers, items, func(ctx context.Context, v int) int { return v * 2 })
			if err != nil || len(got) != len(items) {
				return false
			}
			for i, v := range items {
				if got[i] != v*2 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-1000, 1000)),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
