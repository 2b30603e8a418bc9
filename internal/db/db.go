// Package db is the PostgreSQL persistence layer. Raw SQL through
// database/sql with the lib/pq driver; the schema is created by Migrate.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps a database/sql connection pool for PostgreSQL. Timestamp columns
// are TIMESTAMPTZ; values read back are rebound to the configured local
// zone so the naive-local contract of the model layer holds.
type DB struct {
	Pool *sql.DB
	loc  *time.Location
}

// New creates a new database connection.
func New(ctx context.Context, databaseURL string, loc *time.Location) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool, loc: loc}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// decodeJSON unmarshals a JSONB column into out. A corrupted row is logged
// and leaves out untouched rather than failing the whole scan.
func decodeJSON(raw []byte, out any, column, row string) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Warn("corrupt JSONB column", "column", column, "row", row, "err", err)
	}
}

// localTime rebinds a scanned timestamp into the configured zone.
func (d *DB) localTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(d.loc)
	return &local
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS modules (
    module_id           INTEGER PRIMARY KEY,
    name                TEXT NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    priority            INTEGER NOT NULL DEFAULT 100,
    module_hash         TEXT UNIQUE NOT NULL,
    alive               BOOLEAN NOT NULL DEFAULT FALSE,
    session_id          TEXT,
    last_login_time     TIMESTAMPTZ,
    last_alive_time     TIMESTAMPTZ,
    last_execution_time TIMESTAMPTZ,
    input_data          JSONB NOT NULL DEFAULT '[]',
    output_data         JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_modules_name  ON modules(name);
CREATE INDEX IF NOT EXISTS idx_modules_alive ON modules(alive);

CREATE TABLE IF NOT EXISTS workflows (
    workflow_id        INTEGER PRIMARY KEY,
    name               TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    enable             BOOLEAN NOT NULL DEFAULT TRUE,
    execute_cron_list  JSONB NOT NULL DEFAULT '[]',
    execute_shift_time INTEGER NOT NULL DEFAULT 0,
    execute_shift_unit TEXT NOT NULL DEFAULT 's',
    execute_modules    JSONB NOT NULL DEFAULT '[]',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_workflows_enable ON workflows(enable);

CREATE TABLE IF NOT EXISTS job_logs (
    id            TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL,
    workflow_id   INTEGER NOT NULL DEFAULT 0,
    workflow_name TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    detail        TEXT NOT NULL DEFAULT '',
    run_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_logs_run_at ON job_logs(run_at);
`
