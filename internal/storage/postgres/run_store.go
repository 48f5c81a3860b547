// Package postgres provides Postgres-backed persistence
// implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jroyal/phasetrack/internal/store"
)

// runPool is the subset of pgxpool.Pool the store needs; narrowed so
// tests can inject a pgxmock pool.
type runPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool runPool
}

// NewRunStore creates a RunStore backed by a new connection pool.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	if dsn == "" {
		return nil, errors.New("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool wraps an existing pool; used by tests.
func NewRunStoreWithPool(pool runPool) *RunStore {
	return &RunStore{pool: pool}
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// StartRun inserts the run row; restarts of the same run are
// idempotent.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO phase_runs (id, phase, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query, run.ID, run.Phase, run.StartedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("insert phase run: %w", err)
	}
	return nil
}

// RecordCycle appends one cycle snapshot for a run.
func (s *RunStore) RecordCycle(ctx context.Context, snap store.CycleSnapshot) error {
	query := `
		INSERT INTO cycle_snapshots
			(run_id, cycle, at, visible_done, visible_total, complete_done, complete_total, ready)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, cycle) DO NOTHING;
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		snap.RunID,
		snap.Cycle,
		snap.At,
		snap.VisibleDone,
		snap.VisibleTotal,
		snap.CompleteDone,
		snap.CompleteTotal,
		snap.Ready,
	)
	if err != nil {
		return fmt.Errorf("insert cycle snapshot: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional target
// phase.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	nextPhase *string,
) error {
	query := `
		UPDATE phase_runs
		SET finished_at = $1, status = $2, next_phase = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, nextPhase, id)
	if err != nil {
		return fmt.Errorf("complete phase run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, phase, started_at, finished_at, status, next_phase
		FROM phase_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Phase,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.NextPhase,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get phase run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, phase, started_at, finished_at, status, next_phase
		FROM phase_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list phase runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		err := rows.Scan(
			&run.ID,
			&run.Phase,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.NextPhase,
		)
		if err != nil {
			return nil, fmt.Errorf("scan phase run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase run rows: %w", err)
	}
	return runs, nil
}

// ListRunCycles retrieves cycle snapshots for one run in cycle order.
func (s *RunStore) ListRunCycles(
	ctx context.Context,
	id uuid.UUID,
	limit,
	offset int,
) ([]store.CycleSnapshot, error) {
	query := `
		SELECT run_id, cycle, at, visible_done, visible_total, complete_done, complete_total, ready
		FROM cycle_snapshots
		WHERE run_id = $1
		ORDER BY cycle ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list cycle snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []store.CycleSnapshot
	for rows.Next() {
		var snap store.CycleSnapshot
		err := rows.Scan(
			&snap.RunID,
			&snap.Cycle,
			&snap.At,
			&snap.VisibleDone,
			&snap.VisibleTotal,
			&snap.CompleteDone,
			&snap.CompleteTotal,
			&snap.Ready,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cycle snapshot row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle snapshot rows: %w", err)
	}
	return snaps, nil
}
