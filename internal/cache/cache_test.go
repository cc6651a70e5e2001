package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "pattern-tracker/internal/errors"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(30*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock.now = clock.now.Add(10 * time.Second)
	e, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	if string(e.Value) != "v" {
		t.Errorf("expected value v, got %q", e.Value)
	}
	if !e.ComputedAt.Equal(clock.now.Add(-10 * time.Second)) {
		t.Errorf("unexpected computed_at %v", e.ComputedAt)
	}

	clock.now = clock.now.Add(25 * time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, apperrors.ErrCacheMiss) {
		t.Errorf("expected miss after ttl, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected stale entry evicted, %d left", c.Len())
	}
}

func TestMemoryCache_ZeroTTLDisables(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"))
	if _, err := c.Get(ctx, "k"); !errors.Is(err, apperrors.ErrCacheMiss) {
		t.Errorf("expected miss with caching disabled, got %v", err)
	}
}

func TestMemoryCache_CopiesValue(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf)
	buf[0] = 'z'

	e, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(e.Value) != "abc" {
		t.Errorf("cached value changed with caller buffer: %q", e.Value)
	}
}

func TestRedisCache_DisabledConfig(t *testing.T) {
	if _, err := NewRedisCache(RedisConfig{Enabled: false}, time.Minute, zerolog.Nop()); err == nil {
		t.Error("expected error when redis is disabled")
	}
}

func TestRedisCache_DegradesWhenUnreachable(t *testing.T) {
	c, err := NewRedisCache(RedisConfig{Enabled: true, Address: "127.0.0.1:1"}, time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("expected degraded cache, got error %v", err)
	}
	defer c.Close()

	if c.IsHealthy() {
		t.Fatal("expected unhealthy cache")
	}
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Errorf("Set should be skipped while degraded, got %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, apperrors.ErrCacheMiss) {
		t.Errorf("expected miss while degraded, got %v", err)
	}
}
