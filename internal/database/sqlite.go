package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDatabase implements Database on SQLite.
type SQLiteDatabase struct {
	db     *sql.DB
	logger *slog.Logger
	closed atomic.Bool
}

// NewSQLiteDatabase opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteDatabase(dbPath string, logger *slog.Logger) (*SQLiteDatabase, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteDatabase{
		db:     db,
		logger: logger.With("component", "database"),
	}, nil
}

// Migrate creates all required tables and indexes.
func (s *SQLiteDatabase) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// Close closes the underlying database connection.
func (s *SQLiteDatabase) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Insert implements Database
func (s *SQLiteDatabase) Insert(ctx context.Context, rec Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.logger.Debug("sql", "op", "insert", "table", "tuning_records", "signature", rec.Signature, "key", rec.ScheduleKey)

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tuning_records (signature, task_name, schedule_key, schedule, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Signature, rec.TaskName, rec.ScheduleKey, string(rec.ScheduleJSON), rec.Cost,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert tuning record: %w", err)
	}
	return nil
}

const recordColumns = `id, signature, task_name, schedule_key, schedule, cost, created_at`

// Lookup implements Database
func (s *SQLiteDatabase) Lookup(ctx context.Context, signature string) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.logger.Debug("sql", "op", "select", "table", "tuning_records", "signature", signature)

	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM tuning_records WHERE signature = ? ORDER BY id`, signature)
}

// TopK implements Database
func (s *SQLiteDatabase) TopK(ctx context.Context, signature string, k int) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.logger.Debug("sql", "op", "select_topk", "table", "tuning_records", "signature", signature, "k", k)

	if k < 0 {
		k = -1
	}
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM tuning_records WHERE signature = ? ORDER BY cost, id LIMIT ?`, signature, k)
}

func (s *SQLiteDatabase) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tuning records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		var sched, createdAt string
		if err := rows.Scan(&rec.ID, &rec.Signature, &rec.TaskName, &rec.ScheduleKey, &sched, &rec.Cost, &createdAt); err != nil {
			return nil, fmt.Errorf("scan tuning record: %w", err)
		}
		rec.ScheduleJSON = []byte(sched)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count implements Database
func (s *SQLiteDatabase) Count(ctx context.Context, signature string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tuning_records WHERE signature = ?`, signature).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tuning records: %w", err)
	}
	return n, nil
}

// Signatures implements Database
func (s *SQLiteDatabase) Signatures(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT signature FROM tuning_records ORDER BY signature`)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// SaveModel implements ModelStore
func (s *SQLiteDatabase) SaveModel(ctx context.Context, name string, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.logger.Debug("sql", "op", "upsert", "table", "cost_models", "name", name)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_models (name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save cost model %s: %w", name, err)
	}
	return nil
}

// LoadModel implements ModelStore
func (s *SQLiteDatabase) LoadModel(ctx context.Context, name string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cost_models WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cost model %s: %w", name, err)
	}
	return []byte(data), nil
}
