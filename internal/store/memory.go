package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
)

// MemoryStore is an in-process PatternRepository.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.PatternRecord
	now     Clock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces the wall clock used for age cutoffs.
func WithMemoryClock(now Clock) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*models.PatternRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.PatternRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("nil pattern record")
	}
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[stored.ID]; exists {
		return "", fmt.Errorf("pattern record already exists: %s", stored.ID)
	}
	s.records[stored.ID] = stored
	return stored.ID, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, upd models.RecordUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Status.IsTerminal() {
		return false, nil
	}
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now()
	}
	rec.Apply(upd)
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.PatternRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetActive(ctx context.Context, symbol, timeframe string) ([]*models.PatternRecord, error) {
	return s.collect(func(r *models.PatternRecord) bool {
		return r.Symbol == symbol && (timeframe == "" || r.Timeframe == timeframe)
	}), nil
}

func (s *MemoryStore) GetForSweep(ctx context.Context, maxAgeHours float64) ([]*models.PatternRecord, error) {
	limit := cutoff(s.now(), maxAgeHours)
	return s.collect(func(r *models.PatternRecord) bool {
		return !r.CreatedAt.Before(limit)
	}), nil
}

func (s *MemoryStore) ExpireOlderThan(ctx context.Context, maxAgeHours float64) (int, error) {
	now := s.now()
	limit := cutoff(now, maxAgeHours)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.records {
		if r.Status.IsTerminal() || !r.CreatedAt.Before(limit) {
			continue
		}
		r.Status = models.StatusExpired
		r.Reason = "expired_by_time"
		r.UpdatedAt = now
		count++
	}
	return count, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	return nil
}

// collect returns clones of the active records matching keep, oldest first.
func (s *MemoryStore) collect(keep func(*models.PatternRecord) bool) []*models.PatternRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PatternRecord
	for _, r := range s.records {
		if r.Status.IsTerminal() || !keep(r) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
