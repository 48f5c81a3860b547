package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/report"
	"github.com/jroyal/phasetrack/internal/store"
)

// StoreSink persists run history via a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards events to the repository in batch order. It respects
// ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []report.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt report.Event) error {
	switch evt.Kind {
	case report.KindRunStart:
		run := store.Run{
			ID:        evt.RunID,
			Phase:     evt.Phase,
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		}
		if err := s.repo.StartRun(ctx, run); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case report.KindCycle:
		snap := store.CycleSnapshot{
			RunID:         evt.RunID,
			Cycle:         int64(evt.Cycle),
			At:            evt.TS,
			VisibleDone:   int64(evt.Visible.Done),
			VisibleTotal:  int64(evt.Visible.Total),
			CompleteDone:  int64(evt.Complete.Done),
			CompleteTotal: int64(evt.Complete.Total),
			Ready:         evt.Ready,
		}
		if err := s.repo.RecordCycle(ctx, snap); err != nil {
			return fmt.Errorf("record cycle: %w", err)
		}
	case report.KindTransition:
		// Recorded as part of RUN_END; nothing to persist on its own.
	case report.KindRunEnd:
		status := store.RunAborted
		var nextPhase *string
		if evt.Outcome == report.OutcomeTransitioned {
			status = store.RunCompleted
			if evt.NextPhase != "" {
				next := evt.NextPhase
				nextPhase = &next
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, nextPhase); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
