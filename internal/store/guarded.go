package store

import (
	"context"
	"errors"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/resilience"
)

// GuardedRepository routes every call through a circuit breaker. While the circuit
// is open calls fail fast with ErrRepositoryUnavailable instead of waiting on a
// dead backend.
type GuardedRepository struct {
	inner   PatternRepository
	breaker *resilience.CircuitBreaker
}

// NewGuardedRepository wraps repo with breaker.
func NewGuardedRepository(repo PatternRepository, breaker *resilience.CircuitBreaker) *GuardedRepository {
	return &GuardedRepository{inner: repo, breaker: breaker}
}

// Breaker returns the circuit breaker guarding the repository.
func (g *GuardedRepository) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

// guard runs fn through the breaker. ErrNotFound is a valid answer, not a backend failure.
func guard[T any](ctx context.Context, g *GuardedRepository, op, id string, fn func(ctx context.Context) (T, error)) (T, error) {
	var domainErr error
	v, err := resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if errors.Is(err, apperrors.ErrNotFound) {
			domainErr = err
			return v, nil
		}
		return v, err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return v, apperrors.NewRepositoryError(op, id, errors.Join(apperrors.ErrRepositoryUnavailable, err))
	}
	if err != nil {
		return v, err
	}
	return v, domainErr
}

func (g *GuardedRepository) Create(ctx context.Context, rec *models.PatternRecord) (string, error) {
	return guard(ctx, g, "create", rec.PatternID, func(ctx context.Context) (string, error) {
		return g.inner.Create(ctx, rec)
	})
}

func (g *GuardedRepository) Update(ctx context.Context, id string, upd models.RecordUpdate) (bool, error) {
	return guard(ctx, g, "update", id, func(ctx context.Context) (bool, error) {
		return g.inner.Update(ctx, id, upd)
	})
}

func (g *GuardedRepository) Get(ctx context.Context, id string) (*models.PatternRecord, error) {
	return guard(ctx, g, "get", id, func(ctx context.Context) (*models.PatternRecord, error) {
		return g.inner.Get(ctx, id)
	})
}

func (g *GuardedRepository) GetActive(ctx context.Context, symbol, timeframe string) ([]*models.PatternRecord, error) {
	return guard(ctx, g, "get_active", symbol, func(ctx context.Context) ([]*models.PatternRecord, error) {
		return g.inner.GetActive(ctx, symbol, timeframe)
	})
}

func (g *GuardedRepository) GetForSweep(ctx context.Context, maxAgeHours float64) ([]*models.PatternRecord, error) {
	return guard(ctx, g, "get_for_sweep", "", func(ctx context.Context) ([]*models.PatternRecord, error) {
		return g.inner.GetForSweep(ctx, maxAgeHours)
	})
}

func (g *GuardedRepository) ExpireOlderThan(ctx context.Context, maxAgeHours float64) (int, error) {
	return guard(ctx, g, "expire", "", func(ctx context.Context) (int, error) {
		return g.inner.ExpireOlderThan(ctx, maxAgeHours)
	})
}

// Close closes the wrapped repository without consulting the breaker.
func (g *GuardedRepository) Close() error {
	return g.inner.Close()
}
