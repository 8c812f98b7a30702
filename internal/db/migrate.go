package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS worker_settings (
		worker_id TEXT PRIMARY KEY,
		shop_lat DOUBLE PRECISION,
		shop_lng DOUBLE PRECISION,
		radius_m DOUBLE PRECISION NOT NULL DEFAULT 50,
		work_start_hour INT NOT NULL DEFAULT 8,
		work_end_hour INT NOT NULL DEFAULT 19,
		hourly_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS work_sessions (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		date TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at TIMESTAMPTZ,
		duration_ms BIGINT,
		path JSONB,
		client_ref TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS work_sessions_client_ref
		ON work_sessions (worker_id, client_ref)
		WHERE client_ref IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS work_sessions_one_open
		ON work_sessions (worker_id)
		WHERE ended_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS work_sessions_worker_date
		ON work_sessions (worker_id, date)`,
}

// Migrate applies the schema. Every statement is idempotent so startup
// can run the full list unconditionally.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
