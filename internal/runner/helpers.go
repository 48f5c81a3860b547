package runner

import (
	"context"
	"time"

	"github.com/jroyal/phasetrack/internal/tracker"
)

// WaitCycles returns a hidden task that becomes ready after n cycles.
// Hidden so a cycle pad delays the transition without dragging the
// user-facing aggregate down.
func WaitCycles(n uint32) Task {
	return func(_ context.Context, tc *TaskContext) tracker.Contribution {
		count, _ := tc.Locals["count"].(uint32)
		if count <= n {
			count++
		}
		tc.Locals["count"] = count
		return tracker.HiddenProgress{Progress: tracker.Progress{Done: count - 1, Total: n}}
	}
}

// WaitFor returns a hidden task that becomes ready once d has elapsed
// since its first cycle. Hidden so a time pad delays the transition
// without dragging the user-facing aggregate down.
func WaitFor(d time.Duration, clock Clock) Task {
	return func(_ context.Context, tc *TaskContext) tracker.Contribution {
		deadline, ok := tc.Locals["deadline"].(time.Time)
		if !ok {
			deadline = clock.Now().Add(d)
			tc.Locals["deadline"] = deadline
		}
		elapsed := !clock.Now().Before(deadline)
		return tracker.HiddenProgress{Progress: tracker.FromBool(elapsed)}
	}
}
