// Package store provides pattern persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pattern-tracker/internal/models"
)

// PatternRepository persists tracked patterns. Every call may block or fail; callers
// treat failures as soft and reconcile on the next sweep.
type PatternRepository interface {
	// Create stores a new record and returns its identifier.
	Create(ctx context.Context, rec *models.PatternRecord) (string, error)
	// Update applies the set fields of upd. It reports false when the record is missing
	// or already terminal.
	Update(ctx context.Context, id string, upd models.RecordUpdate) (bool, error)
	// Get returns a record by identifier or ErrNotFound.
	Get(ctx context.Context, id string) (*models.PatternRecord, error)
	// GetActive returns the non-terminal records for symbol. An empty timeframe matches all.
	GetActive(ctx context.Context, symbol, timeframe string) ([]*models.PatternRecord, error)
	// GetForSweep returns the non-terminal records no older than maxAgeHours.
	GetForSweep(ctx context.Context, maxAgeHours float64) ([]*models.PatternRecord, error)
	// ExpireOlderThan marks non-terminal records older than maxAgeHours expired.
	ExpireOlderThan(ctx context.Context, maxAgeHours float64) (int, error)

	Close() error
}

// CandleStore keeps the candles the sweeper prices patterns against.
type CandleStore interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)
	LastPrice(ctx context.Context, symbol, timeframe string) (float64, bool, error)
}

// Config selects and configures a repository backend.
type Config struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the repository named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (PatternRepository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL, PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// Clock returns the current time. Stores take one so age cutoffs are testable.
type Clock func() time.Time

func cutoff(now time.Time, maxAgeHours float64) time.Time {
	return now.Add(-time.Duration(maxAgeHours * float64(time.Hour)))
}
