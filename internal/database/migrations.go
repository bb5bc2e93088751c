package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the DDL for the tuning history tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tuning_records (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		signature    TEXT NOT NULL,
		task_name    TEXT NOT NULL DEFAULT '',
		schedule_key TEXT NOT NULL,
		schedule     TEXT NOT NULL,
		cost         REAL NOT NULL,
		created_at   TEXT NOT NULL
	)`,
	// Makes re-inserting an identical measurement a no-op
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tuning_records_dedup ON tuning_records(signature, schedule_key, cost)`,
	`CREATE INDEX IF NOT EXISTS idx_tuning_records_signature ON tuning_records(signature, id)`,

	`CREATE TABLE IF NOT EXISTS cost_models (
		name       TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
