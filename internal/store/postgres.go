package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
)

// PoolConfig sizes the Postgres connection pool.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns < 1 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	return c
}

// PostgresStore implements PatternRepository on Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  Clock
}

// NewPostgresStore connects to databaseURL and migrates the patterns table.
func NewPostgresStore(ctx context.Context, databaseURL string, cfg PoolConfig) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRepositoryUnavailable, err)
	}

	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`create table if not exists patterns (
			id text primary key,
			pattern_id text not null,
			symbol text not null,
			timeframe text not null,
			pattern_type text not null,
			status text not null,
			confidence double precision not null,
			bias text not null default '',
			support double precision null,
			resistance double precision null,
			target double precision null,
			stop_loss double precision null,
			last_price double precision null,
			reason text not null default '',
			metadata jsonb not null default '{}'::jsonb,
			created_at timestamptz not null,
			updated_at timestamptz not null
		);`,
		`create index if not exists patterns_active_idx on patterns(symbol, timeframe, status);`,
		`create index if not exists patterns_status_created_idx on patterns(status, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.PatternRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("nil pattern record")
	}
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	metadata, err := json.Marshal(nonNilMetadata(rec.Metadata))
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		insert into patterns (`+patternColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, id, rec.PatternID, rec.Symbol, rec.Timeframe, rec.PatternType, string(rec.Status), rec.Confidence, rec.Bias,
		rec.Support, rec.Resistance, rec.Target, rec.StopLoss, rec.LastPrice, rec.Reason, metadata, created, updated)
	if err != nil {
		return "", fmt.Errorf("failed to insert pattern: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, upd models.RecordUpdate) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanPostgresPattern(tx.QueryRow(ctx, `select `+patternColumns+` from patterns where id = $1 for update`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load pattern: %w", err)
	}
	if rec.Status.IsTerminal() {
		return false, nil
	}

	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now()
	}
	rec.Apply(upd)
	metadata, err := json.Marshal(nonNilMetadata(rec.Metadata))
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		update patterns set status=$2, confidence=$3, reason=$4, last_price=$5, metadata=$6, updated_at=$7
		where id=$1
	`, id, string(rec.Status), rec.Confidence, rec.Reason, rec.LastPrice, metadata, rec.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update pattern: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.PatternRecord, error) {
	rec, err := scanPostgresPattern(s.pool.QueryRow(ctx, `select `+patternColumns+` from patterns where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetActive(ctx context.Context, symbol, timeframe string) ([]*models.PatternRecord, error) {
	return s.queryPatterns(ctx, `
		select `+patternColumns+` from patterns
		where symbol = $1 and status in ('pending', 'confirmed') and ($2 = '' or timeframe = $2)
		order by created_at asc, id asc
	`, symbol, timeframe)
}

func (s *PostgresStore) GetForSweep(ctx context.Context, maxAgeHours float64) ([]*models.PatternRecord, error) {
	return s.queryPatterns(ctx, `
		select `+patternColumns+` from patterns
		where status in ('pending', 'confirmed') and created_at >= $1
		order by created_at asc, id asc
	`, cutoff(s.now(), maxAgeHours))
}

func (s *PostgresStore) ExpireOlderThan(ctx context.Context, maxAgeHours float64) (int, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		update patterns set status = 'expired', reason = 'expired_by_time', updated_at = $1
		where status in ('pending', 'confirmed') and created_at < $2
	`, now, cutoff(now, maxAgeHours))
	if err != nil {
		return 0, fmt.Errorf("failed to expire patterns: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) queryPatterns(ctx context.Context, query string, args ...interface{}) ([]*models.PatternRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.PatternRecord
	for rows.Next() {
		rec, err := scanPostgresPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}
	return out, nil
}

func scanPostgresPattern(row pgx.Row) (*models.PatternRecord, error) {
	var rec models.PatternRecord
	var status string
	var metadata []byte

	err := row.Scan(&rec.ID, &rec.PatternID, &rec.Symbol, &rec.Timeframe, &rec.PatternType, &status, &rec.Confidence, &rec.Bias,
		&rec.Support, &rec.Resistance, &rec.Target, &rec.StopLoss, &rec.LastPrice, &rec.Reason, &metadata, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = models.PatternStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", rec.ID, err)
		}
		if len(rec.Metadata) == 0 {
			rec.Metadata = nil
		}
	}
	return &rec, nil
}

func nonNilMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
