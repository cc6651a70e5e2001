package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "pattern-tracker/internal/errors"
)

// KeyPrefix namespaces analysis results in Redis.
const KeyPrefix = "patterns:analysis:"

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisCache is a Cache backed by Redis with a circuit breaker. While the breaker is
// open every Get is a miss and every Set is skipped, so callers simply recompute.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewRedisCache connects to Redis. An unreachable server yields a cache in degraded mode, not an error.
func NewRedisCache(cfg RedisConfig, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	rc := &RedisCache{
		client:        client,
		ttl:           ttl,
		logger:        logger.With().Str("component", "redis_cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rc.logger.Warn().Err(err).Str("address", cfg.Address).Msg("Redis unreachable, result cache degraded")
		rc.lastCheck = time.Now()
		return rc, nil
	}

	rc.healthy = true
	rc.lastCheck = time.Now()
	rc.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return rc, nil
}

func (c *RedisCache) TTL() time.Duration {
	return c.ttl
}

// IsHealthy reports whether the circuit breaker is closed.
func (c *RedisCache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *RedisCache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	if c.failureCount >= c.maxFailures {
		if c.healthy {
			c.logger.Warn().Err(err).Int("failures", c.failureCount).Msg("Circuit breaker open, Redis marked unhealthy")
		}
		c.healthy = false
	}
}

func (c *RedisCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		c.logger.Info().Msg("Circuit breaker closed, Redis recovered")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

// checkHealth pings in the background when the breaker is open and the check interval has passed.
func (c *RedisCache) checkHealth() {
	c.mu.Lock()
	shouldCheck := !c.healthy && time.Since(c.lastCheck) >= c.checkInterval
	if shouldCheck {
		c.lastCheck = time.Now()
	}
	c.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Ping(ctx).Err(); err == nil {
			c.recordSuccess()
		}
	}()
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, error) {
	c.checkHealth()
	if !c.IsHealthy() {
		return Entry{}, fmt.Errorf("%w: redis unavailable (circuit breaker open)", apperrors.ErrCacheMiss)
	}

	data, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, apperrors.ErrCacheMiss
		}
		c.recordFailure(err)
		return Entry{}, fmt.Errorf("redis get failed: %w", err)
	}
	c.recordSuccess()

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: corrupt entry %s: %v", apperrors.ErrCacheMiss, key, err)
	}
	return e, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if c.ttl <= 0 {
		return nil
	}
	c.checkHealth()
	if !c.IsHealthy() {
		return nil
	}

	data, err := json.Marshal(Entry{Value: value, ComputedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, KeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("redis set failed: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
