// Package cache provides the short-lived analysis result cache with in-memory and Redis backends.
package cache

import (
	"context"
	"sync"
	"time"

	apperrors "pattern-tracker/internal/errors"
)

// Entry is a cached value with the time it was computed.
type Entry struct {
	Value      []byte    `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.ComputedAt) < ttl
}

// Cache stores computed results. Get returns ErrCacheMiss for absent or stale keys.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, value []byte) error
	TTL() time.Duration
}

// Clock returns the current time.
type Clock func() time.Time

// MemoryCache is a process-local Cache with an injected TTL and clock.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     Clock
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces the wall clock.
func WithClock(now Clock) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates an in-memory cache. A non-positive ttl disables caching.
func NewMemoryCache(ttl time.Duration, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) TTL() time.Duration {
	return c.ttl
}

// Get returns a fresh entry or ErrCacheMiss. Stale entries are evicted.
func (c *MemoryCache) Get(_ context.Context, key string) (Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, apperrors.ErrCacheMiss
	}
	if !e.Fresh(c.now(), c.ttl) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.ComputedAt.Equal(e.ComputedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry{}, apperrors.ErrCacheMiss
	}
	return e, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	if c.ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	c.entries[key] = Entry{Value: stored, ComputedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
