package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jroyal/phasetrack/internal/store"
)

func TestStartRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	run := store.Run{
		ID:        uuid.New(),
		Phase:     "load",
		StartedAt: time.Unix(1700000000, 0).UTC(),
		Status:    store.RunRunning,
	}

	mock.ExpectExec("INSERT INTO phase_runs").
		WithArgs(run.ID, run.Phase, run.StartedAt, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StartRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCycleInsertsSnapshot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	snap := store.CycleSnapshot{
		RunID:         uuid.New(),
		Cycle:         3,
		At:            time.Unix(1700000000, 0).UTC(),
		VisibleDone:   2,
		VisibleTotal:  4,
		CompleteDone:  3,
		CompleteTotal: 5,
		Ready:         false,
	}

	mock.ExpectExec("INSERT INTO cycle_snapshots").
		WithArgs(
			snap.RunID,
			snap.Cycle,
			snap.At,
			snap.VisibleDone,
			snap.VisibleTotal,
			snap.CompleteDone,
			snap.CompleteTotal,
			snap.Ready,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordCycle(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunUpdatesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	id := uuid.New()
	finished := time.Unix(1700000100, 0).UTC()
	next := "game"

	mock.ExpectExec("UPDATE phase_runs").
		WithArgs(finished, store.RunCompleted, &next, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteRun(context.Background(), id, finished, store.RunCompleted, &next))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	mock.ExpectExec("UPDATE phase_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.CompleteRun(context.Background(), uuid.New(), time.Now(), store.RunAborted, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	next := "game"

	rows := pgxmock.NewRows([]string{"id", "phase", "started_at", "finished_at", "status", "next_phase"}).
		AddRow(id, "load", started, &finished, store.RunCompleted, &next)
	mock.ExpectQuery("SELECT (.+) FROM phase_runs").
		WithArgs(id).
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "load", run.Phase)
	require.Equal(t, store.RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, finished, *run.FinishedAt)
	require.NotNil(t, run.NextPhase)
	require.Equal(t, "game", *run.NextPhase)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	rows := pgxmock.NewRows([]string{"id", "phase", "started_at", "finished_at", "status", "next_phase"})
	mock.ExpectQuery("SELECT (.+) FROM phase_runs").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(rows)

	_, err = s.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunCyclesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewRunStoreWithPool(mock)

	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"run_id", "cycle", "at",
		"visible_done", "visible_total", "complete_done", "complete_total", "ready",
	}).
		AddRow(id, int64(0), at, int64(1), int64(2), int64(1), int64(3), false).
		AddRow(id, int64(1), at.Add(time.Second), int64(2), int64(2), int64(3), int64(3), true)
	mock.ExpectQuery("SELECT (.+) FROM cycle_snapshots").
		WithArgs(id, 10, 0).
		WillReturnRows(rows)

	snaps, err := s.ListRunCycles(context.Background(), id, 10, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, int64(1), snaps[1].Cycle)
	require.True(t, snaps[1].Ready)
	require.NoError(t, mock.ExpectationsWereMet())
}
