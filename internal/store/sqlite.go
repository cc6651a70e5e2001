package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/models"
)

// SQLiteStore implements PatternRepository and CandleStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

// NewSQLiteStore creates a new SQLite-based pattern store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// SetClock replaces the wall clock used for age cutoffs.
func (s *SQLiteStore) SetClock(now Clock) {
	s.now = now
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candles table for the prices patterns are evaluated against
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL DEFAULT 0,
		UNIQUE(symbol, timeframe, ts)
	);

	-- Tracked patterns
	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		pattern_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence REAL NOT NULL,
		bias TEXT NOT NULL DEFAULT '',
		support REAL,
		resistance REAL,
		target REAL,
		stop_loss REAL,
		last_price REAL,
		reason TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_tf ON candles(symbol, timeframe, ts);
	CREATE INDEX IF NOT EXISTS idx_patterns_active ON patterns(symbol, timeframe, status);
	CREATE INDEX IF NOT EXISTS idx_patterns_status_created ON patterns(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_patterns_pattern_id ON patterns(pattern_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles from the database.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, timeframe, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent candle.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&ts)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// LastPrice returns the close of the most recent stored candle.
func (s *SQLiteStore) LastPrice(ctx context.Context, symbol, timeframe string) (float64, bool, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `
		SELECT close FROM candles WHERE symbol = ? AND timeframe = ? ORDER BY ts DESC LIMIT 1
	`, symbol, timeframe).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last price: %w", err)
	}
	return price, true, nil
}

// ============================================================================
// Pattern Methods
// ============================================================================

const patternColumns = `id, pattern_id, symbol, timeframe, pattern_type, status, confidence, bias,
	support, resistance, target, stop_loss, last_price, reason, metadata, created_at, updated_at`

// Create saves a new pattern record.
func (s *SQLiteStore) Create(ctx context.Context, rec *models.PatternRecord) (string, error) {
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
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, rec.PatternID, rec.Symbol, rec.Timeframe, rec.PatternType, string(rec.Status), rec.Confidence, rec.Bias,
		nullFloat(rec.Support), nullFloat(rec.Resistance), nullFloat(rec.Target), nullFloat(rec.StopLoss), nullFloat(rec.LastPrice),
		rec.Reason, metadata, created.UnixMilli(), updated.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to insert pattern: %w", err)
	}
	return id, nil
}

// Update applies a partial update to a non-terminal pattern record.
func (s *SQLiteStore) Update(ctx context.Context, id string, upd models.RecordUpdate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanPattern(tx.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE patterns SET status = ?, confidence = ?, reason = ?, last_price = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(rec.Status), rec.Confidence, rec.Reason, nullFloat(rec.LastPrice), metadata, rec.UpdatedAt.UnixMilli(),
		id, string(models.StatusPending), string(models.StatusConfirmed))
	if err != nil {
		return false, fmt.Errorf("failed to update pattern: %w", err)
	}
	rows, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rows > 0, nil
}

// Get retrieves a single pattern record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.PatternRecord, error) {
	rec, err := scanPattern(s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return rec, nil
}

// GetActive retrieves the non-terminal patterns for a symbol.
func (s *SQLiteStore) GetActive(ctx context.Context, symbol, timeframe string) ([]*models.PatternRecord, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns WHERE symbol = ? AND status IN (?, ?)`
	args := []interface{}{symbol, string(models.StatusPending), string(models.StatusConfirmed)}
	if timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, timeframe)
	}
	query += " ORDER BY created_at ASC, id ASC"
	return s.queryPatterns(ctx, query, args...)
}

// GetForSweep retrieves non-terminal patterns created within maxAgeHours.
func (s *SQLiteStore) GetForSweep(ctx context.Context, maxAgeHours float64) ([]*models.PatternRecord, error) {
	limit := cutoff(s.now(), maxAgeHours)
	return s.queryPatterns(ctx, `
		SELECT `+patternColumns+` FROM patterns
		WHERE status IN (?, ?) AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`, string(models.StatusPending), string(models.StatusConfirmed), limit.UnixMilli())
}

// ExpireOlderThan marks non-terminal patterns older than maxAgeHours expired.
func (s *SQLiteStore) ExpireOlderThan(ctx context.Context, maxAgeHours float64) (int, error) {
	now := s.now()
	limit := cutoff(now, maxAgeHours)
	result, err := s.db.ExecContext(ctx, `
		UPDATE patterns SET status = ?, reason = ?, updated_at = ?
		WHERE status IN (?, ?) AND created_at < ?
	`, string(models.StatusExpired), "expired_by_time", now.UnixMilli(),
		string(models.StatusPending), string(models.StatusConfirmed), limit.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to expire patterns: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *SQLiteStore) queryPatterns(ctx context.Context, query string, args ...interface{}) ([]*models.PatternRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.PatternRecord
	for rows.Next() {
		rec, err := scanPattern(rows)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPattern(row rowScanner) (*models.PatternRecord, error) {
	var rec models.PatternRecord
	var status, metadata string
	var support, resistance, target, stop, last sql.NullFloat64
	var created, updated int64

	err := row.Scan(&rec.ID, &rec.PatternID, &rec.Symbol, &rec.Timeframe, &rec.PatternType, &status, &rec.Confidence, &rec.Bias,
		&support, &resistance, &target, &stop, &last, &rec.Reason, &metadata, &created, &updated)
	if err != nil {
		return nil, err
	}

	rec.Status = models.PatternStatus(status)
	rec.Support = floatPtr(support)
	rec.Resistance = floatPtr(resistance)
	rec.Target = floatPtr(target)
	rec.StopLoss = floatPtr(stop)
	rec.LastPrice = floatPtr(last)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
