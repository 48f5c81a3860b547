// Package store declares interfaces for persisting phase run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the phase_runs status column.
type RunStatus string

// Run statuses persisted in phase_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Run models one activation of a tracked phase.
type Run struct {
	// ID identifies the activation.
	ID uuid.UUID
	// Phase is the tracked phase label.
	Phase string
	// StartedAt captures when the phase was entered.
	StartedAt time.Time
	// FinishedAt is nil until the phase is exited.
	FinishedAt *time.Time
	// Status is running/completed/aborted.
	Status RunStatus
	// NextPhase optionally records the transition target, set once a
	// transition was requested.
	NextPhase *string
}

// CycleSnapshot captures the aggregate state after one cycle.
type CycleSnapshot struct {
	// RunID is the owning activation.
	RunID uuid.UUID
	// Cycle is the zero-based cycle index within the run.
	Cycle int64
	// At is the snapshot timestamp.
	At time.Time
	// VisibleDone/VisibleTotal are the user-facing aggregate.
	VisibleDone  int64
	VisibleTotal int64
	// CompleteDone/CompleteTotal include hidden work.
	CompleteDone  int64
	CompleteTotal int64
	// Ready mirrors the transition readiness at snapshot time.
	Ready bool
}

// RunRepository persists phase run history for monitoring. This is
// observability data only; live progress never survives a restart.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) the run row.
	StartRun(ctx context.Context, run Run) error
	// RecordCycle appends one cycle snapshot for a run.
	RecordCycle(ctx context.Context, snap CycleSnapshot) error
	// CompleteRun marks the run finished with the given status and
	// optional transition target.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, nextPhase *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus
	// limit/offset, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunCycles returns the snapshots for one run in cycle order.
	ListRunCycles(ctx context.Context, id uuid.UUID, limit, offset int) ([]CycleSnapshot, error)
}
