// Package postgres stores invoices, customers and job runs in PostgreSQL through
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id       TEXT PRIMARY KEY,
	currency TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS invoices (
	id               TEXT PRIMARY KEY,
	customer_id      TEXT NOT NULL,
	value            NUMERIC(1000, 2) NOT NULL,
	currency         TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	retry_payment_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS invoices_status_created_idx ON invoices (status, created_at);
CREATE INDEX IF NOT EXISTS invoices_status_retry_idx ON invoices (status, retry_payment_at);

CREATE TABLE IF NOT EXISTS job_runs (
	name     TEXT PRIMARY KEY,
	last_run TIMESTAMPTZ NOT NULL
);
`

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
