// Package report defines the snapshot events emitted by the cycle
// runner and the hub that fans them out to monitoring sinks.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jroyal/phasetrack/internal/tracker"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	// KindRunStart marks a tracked phase being entered.
	KindRunStart Kind = "RUN_START"
	// KindCycle carries the aggregate snapshot taken after all tasks of
	// one cycle reported.
	KindCycle Kind = "CYCLE"
	// KindTransition marks a requested phase transition.
	KindTransition Kind = "TRANSITION"
	// KindRunEnd marks a tracked phase being exited.
	KindRunEnd Kind = "RUN_END"
)

// Outcome describes how a run ended.
type Outcome string

// Run outcomes attached to RUN_END events.
const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeStopped      Outcome = "stopped"
)

// Event captures one milestone of a tracked phase run.
type Event struct {
	// RunID identifies one activation of a tracked phase.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// Phase is the tracked phase the run belongs to.
	Phase string
	// Cycle is the zero-based cycle index; meaningful for CYCLE and
	// TRANSITION events.
	Cycle uint64
	// Visible is the user-facing aggregate at snapshot time.
	Visible tracker.Progress
	// Complete is the visible plus hidden aggregate at snapshot time.
	Complete tracker.Progress
	// Ready mirrors Complete.IsReady at snapshot time.
	Ready bool
	// NextPhase is the transition target; required for TRANSITION.
	NextPhase string
	// Outcome is required for RUN_END.
	Outcome Outcome
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Phase == "" {
		return errors.New("phase is required")
	}
	switch e.Kind {
	case KindRunStart, KindCycle:
	case KindTransition:
		if e.NextPhase == "" {
			return errors.New("transition requires next phase")
		}
	case KindRunEnd:
		if e.Outcome != OutcomeTransitioned && e.Outcome != OutcomeStopped {
			return fmt.Errorf("unknown run outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
