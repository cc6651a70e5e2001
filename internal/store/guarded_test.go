package store

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/resilience"
)

var errDown = errors.New("connection refused")

// downRepo fails every call and counts how often it was reached.
type downRepo struct{ calls int }

func (d *downRepo) Create(ctx context.Context, rec *models.PatternRecord) (string, error) {
	d.calls++
	return "", errDown
}

func (d *downRepo) Update(ctx context.Context, id string, upd models.RecordUpdate) (bool, error) {
	d.calls++
	return false, errDown
}

func (d *downRepo) Get(ctx context.Context, id string) (*models.PatternRecord, error) {
	d.calls++
	return nil, errDown
}

func (d *downRepo) GetActive(ctx context.Context, symbol, timeframe string) ([]*models.PatternRecord, error) {
	d.calls++
	return nil, errDown
}

func (d *downRepo) GetForSweep(ctx context.Context, maxAgeHours float64) ([]*models.PatternRecord, error) {
	d.calls++
	return nil, errDown
}

func (d *downRepo) ExpireOlderThan(ctx context.Context, maxAgeHours float64) (int, error) {
	d.calls++
	return 0, errDown
}

func (d *downRepo) Close() error { return nil }

func TestGuardedRepository_FailsFastWhenOpen(t *testing.T) {
	inner := &downRepo{}
	breaker := resilience.NewCircuitBreaker("repo", resilience.CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	repo := NewGuardedRepository(inner, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := repo.GetActive(ctx, "ACME", "1d"); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}

	_, err := repo.Update(ctx, "rec-1", models.RecordUpdate{})
	if !errors.Is(err, apperrors.ErrRepositoryUnavailable) {
		t.Fatalf("expected ErrRepositoryUnavailable, got %v", err)
	}
	var repoErr *apperrors.RepositoryError
	if !errors.As(err, &repoErr) || repoErr.Operation != "update" || repoErr.ID != "rec-1" {
		t.Errorf("unexpected error shape %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("open circuit should not reach the backend, got %d calls", inner.calls)
	}
	if repo.Breaker().State() != resilience.CircuitOpen {
		t.Errorf("expected open circuit, got %s", repo.Breaker().State())
	}
}

func TestGuardedRepository_NotFoundKeepsCircuitClosed(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("repo", resilience.CircuitBreakerConfig{FailureThreshold: 1})
	repo := NewGuardedRepository(NewMemoryStore(), breaker)

	for i := 0; i < 3; i++ {
		if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if breaker.State() != resilience.CircuitClosed {
		t.Errorf("lookups of missing records must not open the circuit, got %s", breaker.State())
	}
}
