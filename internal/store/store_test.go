package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
	"pattern-tracker/internal/resilience"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type repoFactory func(t *testing.T, clock *fakeClock) PatternRepository

func repositoryBackends(t *testing.T) map[string]repoFactory {
	backends := map[string]repoFactory{
		"memory": func(t *testing.T, clock *fakeClock) PatternRepository {
			return NewMemoryStore(WithMemoryClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) PatternRepository {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "patterns.db"))
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}
			s.SetClock(clock.Now)
			return s
		},
		"guarded": func(t *testing.T, clock *fakeClock) PatternRepository {
			inner := NewMemoryStore(WithMemoryClock(clock.Now))
			return NewGuardedRepository(inner, resilience.NewCircuitBreaker("test", resilience.DefaultCircuitBreakerConfig()))
		},
	}
	if url := os.Getenv("PATTERNS_TEST_POSTGRES_URL"); url != "" {
		backends["postgres"] = func(t *testing.T, clock *fakeClock) PatternRepository {
			s, err := NewPostgresStore(context.Background(), url, PoolConfig{MaxConns: 2})
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}
			if _, err := s.pool.Exec(context.Background(), "truncate table patterns"); err != nil {
				t.Fatalf("Failed to truncate: %v", err)
			}
			s.now = clock.Now
			return s
		}
	}
	return backends
}

func record(symbol, timeframe, patternID string, created time.Time) *models.PatternRecord {
	resistance := 100.0
	return &models.PatternRecord{
		PatternID:   patternID,
		Symbol:      symbol,
		Timeframe:   timeframe,
		PatternType: "head_and_shoulders",
		Status:      models.StatusPending,
		Confidence:  80,
		Bias:        "bearish",
		Resistance:  &resistance,
		Metadata:    map[string]interface{}{"neckline": 95.0},
		CreatedAt:   created,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, factory := range repositoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: base}
			repo := factory(t, clock)
			defer repo.Close()
			ctx := context.Background()

			id, err := repo.Create(ctx, record("ACME", "1d", "hs_1", base))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if id == "" {
				t.Fatal("expected a generated id")
			}

			got, err := repo.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.PatternID != "hs_1" || got.Status != models.StatusPending || got.Confidence != 80 {
				t.Errorf("unexpected record %+v", got)
			}
			if got.Resistance == nil || *got.Resistance != 100 {
				t.Errorf("expected resistance 100, got %v", got.Resistance)
			}
			if got.Support != nil {
				t.Errorf("expected nil support, got %v", *got.Support)
			}
			if !got.CreatedAt.Equal(base) {
				t.Errorf("expected created_at %v, got %v", base, got.CreatedAt)
			}
			if v, ok := got.Metadata["neckline"].(float64); !ok || v != 95 {
				t.Errorf("expected neckline metadata, got %v", got.Metadata)
			}

			if _, err := repo.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRepository_UpdateStopsAtTerminal(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, factory := range repositoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: base}
			repo := factory(t, clock)
			defer repo.Close()
			ctx := context.Background()

			id, err := repo.Create(ctx, record("ACME", "1d", "hs_1", base))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			confirmed := models.StatusConfirmed
			ok, err := repo.Update(ctx, id, models.RecordUpdate{Status: &confirmed})
			if err != nil || !ok {
				t.Fatalf("expected confirm to apply, got %v %v", ok, err)
			}

			invalidated := models.StatusInvalidated
			reason := "resistance_breached"
			price := 106.0
			ok, err = repo.Update(ctx, id, models.RecordUpdate{
				Status:    &invalidated,
				Reason:    &reason,
				LastPrice: &price,
				Metadata:  map[string]interface{}{"decayed_confidence": 60.0},
			})
			if err != nil || !ok {
				t.Fatalf("expected invalidation to apply, got %v %v", ok, err)
			}

			pending := models.StatusPending
			ok, err = repo.Update(ctx, id, models.RecordUpdate{Status: &pending})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if ok {
				t.Error("a terminal record must not be updated")
			}

			got, err := repo.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != models.StatusInvalidated || got.Reason != "resistance_breached" {
				t.Errorf("unexpected final state %s/%s", got.Status, got.Reason)
			}
			if got.LastPrice == nil || *got.LastPrice != 106 {
				t.Errorf("expected last price 106, got %v", got.LastPrice)
			}
			if got.Metadata["neckline"] == nil || got.Metadata["decayed_confidence"] == nil {
				t.Errorf("expected merged metadata, got %v", got.Metadata)
			}

			if ok, _ := repo.Update(ctx, "missing", models.RecordUpdate{Status: &pending}); ok {
				t.Error("expected false for a missing record")
			}
		})
	}
}

func TestRepository_GetActiveFilters(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, factory := range repositoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: base}
			repo := factory(t, clock)
			defer repo.Close()
			ctx := context.Background()

			mustCreate := func(rec *models.PatternRecord) string {
				id, err := repo.Create(ctx, rec)
				if err != nil {
					t.Fatalf("Create: %v", err)
				}
				return id
			}
			mustCreate(record("ACME", "1d", "a", base))
			mustCreate(record("ACME", "1H", "b", base.Add(time.Minute)))
			mustCreate(record("OTHER", "1d", "c", base))
			done := mustCreate(record("ACME", "1d", "d", base))
			completed := models.StatusCompleted
			if _, err := repo.Update(ctx, done, models.RecordUpdate{Status: &completed}); err != nil {
				t.Fatalf("Update: %v", err)
			}

			daily, err := repo.GetActive(ctx, "ACME", "1d")
			if err != nil {
				t.Fatalf("GetActive: %v", err)
			}
			if len(daily) != 1 || daily[0].PatternID != "a" {
				t.Errorf("expected only pattern a, got %d records", len(daily))
			}

			all, err := repo.GetActive(ctx, "ACME", "")
			if err != nil {
				t.Fatalf("GetActive: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("expected 2 active ACME records, got %d", len(all))
			}
			if all[0].PatternID != "a" || all[1].PatternID != "b" {
				t.Errorf("expected oldest first, got %s, %s", all[0].PatternID, all[1].PatternID)
			}
		})
	}
}

func TestRepository_ExpireOlderThanIsIdempotent(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for name, factory := range repositoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: now}
			repo := factory(t, clock)
			defer repo.Close()
			ctx := context.Background()

			oldID, err := repo.Create(ctx, record("ACME", "1d", "old", now.Add(-100*time.Hour)))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := repo.Create(ctx, record("ACME", "1d", "young", now.Add(-time.Hour))); err != nil {
				t.Fatalf("Create: %v", err)
			}

			n, err := repo.ExpireOlderThan(ctx, 72)
			if err != nil {
				t.Fatalf("ExpireOlderThan: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 expired, got %d", n)
			}
			n, err = repo.ExpireOlderThan(ctx, 72)
			if err != nil {
				t.Fatalf("ExpireOlderThan: %v", err)
			}
			if n != 0 {
				t.Errorf("re-expiring must be a no-op, got %d", n)
			}

			old, err := repo.Get(ctx, oldID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if old.Status != models.StatusExpired || old.Reason != "expired_by_time" {
				t.Errorf("unexpected old record state %s/%s", old.Status, old.Reason)
			}

			sweep, err := repo.GetForSweep(ctx, 72)
			if err != nil {
				t.Fatalf("GetForSweep: %v", err)
			}
			if len(sweep) != 1 || sweep[0].PatternID != "young" {
				t.Errorf("expected only the young record for sweep, got %d", len(sweep))
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	repo, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := repo.(*MemoryStore); !ok {
		t.Errorf("expected memory store by default, got %T", repo)
	}
}
