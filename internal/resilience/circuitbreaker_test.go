package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var errBackend = errors.New("backend down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("repo", CircuitBreakerConfig{FailureThreshold: threshold, SuccessThreshold: 1, Cooldown: time.Minute})
	cb.SetClock(clock.now)
	return cb, clock
}

func fail(ctx context.Context) error { return errBackend }
func ok(ctx context.Context) error   { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open circuit should reject without calling, err=%v called=%v", err, called)
	}
	if s := cb.Stats(); s.TotalRejected != 1 || s.TotalFailures != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestCircuitBreaker_RecoversAfterCooldown(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(30 * time.Second)
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection during cooldown, got %v", err)
	}

	clock.advance(31 * time.Second)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("probe should pass, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after a successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Minute)
	_ = cb.Execute(ctx, fail)
	if cb.State() != CircuitOpen {
		t.Errorf("failed probe should reopen, got %s", cb.State())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("cooldown should restart, got %v", err)
	}
}

func TestCircuitBreaker_IgnoresCallerCancellation(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if cb.State() != CircuitClosed {
		t.Errorf("cancellation should not open the circuit, got %s", cb.State())
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(2)
	v, err := ExecuteWithResult(context.Background(), cb, func(ctx context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("got %d, %v", v, err)
	}
	v, err = ExecuteWithResult(context.Background(), cb, func(ctx context.Context) (int, error) { return 7, errBackend })
	if !errors.Is(err, errBackend) || v != 0 {
		t.Errorf("failed call should return the zero value, got %d, %v", v, err)
	}
}

// Property: a successful call resets the failure streak, so the circuit opens only
// after threshold consecutive failures.
func TestProperty_OpensOnlyOnConsecutiveFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("open iff a failure run reaches the threshold", prop.ForAll(
		func(outcomes []bool) bool {
			const threshold = 3
			cb, _ := newTestBreaker(threshold)
			ctx := context.Background()

			run, opened := 0, false
			for _, success := range outcomes {
				if opened {
					break
				}
				if success {
					_ = cb.Execute(ctx, ok)
					run = 0
				} else {
					_ = cb.Execute(ctx, fail)
					run++
				}
				opened = run >= threshold
			}
			return (cb.State() == CircuitOpen) == opened
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
