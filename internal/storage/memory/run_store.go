// Package memory provides in-memory persistence for development and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jroyal/phasetrack/internal/store"
)

// RunStore is an in-memory store.RunRepository.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	cycles map[uuid.UUID][]store.CycleSnapshot
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:   make(map[uuid.UUID]store.Run),
		cycles: make(map[uuid.UUID][]store.CycleSnapshot),
	}
}

// StartRun records a run row; repeated starts for the same ID are
// idempotent.
func (s *RunStore) StartRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID]; ok {
		existing.Status = run.Status
		s.runs[run.ID] = existing
		return nil
	}
	s.runs[run.ID] = run
	return nil
}

// RecordCycle appends one snapshot for a run.
func (s *RunStore) RecordCycle(_ context.Context, snap store.CycleSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[snap.RunID] = append(s.cycles[snap.RunID], snap)
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	nextPhase *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.NextPhase = nextPhase
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return paginate(out, limit, offset), nil
}

// ListRunCycles returns the snapshots for one run in cycle order.
func (s *RunStore) ListRunCycles(_ context.Context, id uuid.UUID, limit, offset int) ([]store.CycleSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := append([]store.CycleSnapshot(nil), s.cycles[id]...)
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Cycle < snaps[j].Cycle
	})
	return paginate(snaps, limit, offset), nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
