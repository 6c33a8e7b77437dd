package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunLog persists the last fire time of each scheduled job so missed triggers survive a
// restart.
type RunLog struct {
	db *sql.DB
}

func NewRunLog(db *sql.DB) *RunLog {
	return &RunLog{db: db}
}

func (l *RunLog) LastRun(ctx context.Context, name string) (time.Time, bool, error) {
	var at time.Time
	err := l.db.QueryRowContext(ctx, `SELECT last_run FROM job_runs WHERE name = $1`, name).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("postgres: last run of %s: %w", name, err)
	}
	return at.UTC(), true, nil
}

// RecordRun stores at unless a later run is already recorded.
func (l *RunLog) RecordRun(ctx context.Context, name string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO job_runs (name, last_run) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET last_run = GREATEST(job_runs.last_run, EXCLUDED.last_run)`,
		name, at.UTC())
	if err != nil {
		return fmt.Errorf("postgres: record run of %s: %w", name, err)
	}
	return nil
}
