package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/immoflow/propsync/internal/metrics"
)

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("run not found")

const (
	// DefaultListLimit bounds an unpaginated run listing.
	DefaultListLimit = 100

	// MaxListLimit is the hard cap on a single page.
	MaxListLimit = 1000
)

// Run is one persisted pass summary.
type Run struct {
	RunID      string    `db:"run_id" json:"run_id"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	Created    int       `db:"created" json:"created"`
	Updated    int       `db:"updated" json:"updated"`
	Skipped    int       `db:"skipped" json:"skipped"`
	Errors     int       `db:"errors" json:"errors"`
	Removed    int       `db:"removed" json:"removed"`
}

// Repository persists pass summaries in PostgreSQL. Redis keeps the rolling
// short-term window; this table is the durable record.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a run history repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the sync_runs table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sync_runs (
			run_id      TEXT PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created     INTEGER NOT NULL DEFAULT 0,
			updated     INTEGER NOT NULL DEFAULT 0,
			skipped     INTEGER NOT NULL DEFAULT 0,
			errors      INTEGER NOT NULL DEFAULT 0,
			removed     INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sync_runs table: %w", err)
	}
	return nil
}

// InsertRun persists one pass summary. Re-inserting the same run id updates
// the row, so a retried insert never duplicates history.
func (r *Repository) InsertRun(ctx context.Context, run metrics.SyncRun) error {
	query := `
		INSERT INTO sync_runs (run_id, started_at, duration_ms, created, updated, skipped, errors, removed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			duration_ms = EXCLUDED.duration_ms,
			created = EXCLUDED.created,
			updated = EXCLUDED.updated,
			skipped = EXCLUDED.skipped,
			errors = EXCLUDED.errors,
			removed = EXCLUDED.removed
	`

	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.StartedAt, run.DurationMS,
		run.Created, run.Updated, run.Skipped, run.Errors, run.Removed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}
	return nil
}

// GetRunByID retrieves one pass summary.
func (r *Repository) GetRunByID(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	query := `
		SELECT run_id, started_at, duration_ms, created, updated, skipped, errors, removed
		FROM sync_runs
		WHERE run_id = $1
	`

	err := r.db.GetContext(ctx, run, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves pass summaries, most recent first.
func (r *Repository) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs := []Run{}
	query := `
		SELECT run_id, started_at, duration_ms, created, updated, skipped, errors, removed
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	err := r.db.SelectContext(ctx, &runs, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}

// GetRunTotals aggregates counters across all runs since the given time.
// A nil since aggregates the whole table.
func (r *Repository) GetRunTotals(ctx context.Context, since *time.Time) (Run, error) {
	query := `
		SELECT
			COALESCE(SUM(created), 0) AS created,
			COALESCE(SUM(updated), 0) AS updated,
			COALESCE(SUM(skipped), 0) AS skipped,
			COALESCE(SUM(errors), 0) AS errors,
			COALESCE(SUM(removed), 0) AS removed
		FROM sync_runs
	`
	args := []any{}
	if since != nil {
		query += " WHERE started_at >= $1"
		args = append(args, *since)
	}

	var totals Run
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run totals: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if scanErr := rows.Scan(&totals.Created, &totals.Updated, &totals.Skipped, &totals.Errors, &totals.Removed); scanErr != nil {
			return Run{}, fmt.Errorf("failed to scan row: %w", scanErr)
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return Run{}, fmt.Errorf("row iteration error: %w", rowsErr)
	}

	return totals, nil
}

// DeleteRunsBefore prunes history older than the cutoff and reports how many
// rows went away.
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sync_runs WHERE started_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sync runs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}
