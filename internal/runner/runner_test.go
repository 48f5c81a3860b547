package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pubmem "github.com/jroyal/phasetrack/internal/publisher/memory"

	"github.com/jroyal/phasetrack/internal/phase"
	"github.com/jroyal/phasetrack/internal/report"
	"github.com/jroyal/phasetrack/internal/tracker"
)

// collectEmitter records emitted events for assertions.
type collectEmitter struct {
	mu     sync.Mutex
	events []report.Event
}

func (c *collectEmitter) Emit(evt report.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) snapshot() []report.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]report.Event, len(c.events))
	copy(out, c.events)
	return out
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestManager(t *testing.T, configs ...phase.Config) *phase.Manager {
	t.Helper()
	m, err := phase.NewManager(zap.NewNop(), configs...)
	require.NoError(t, err)
	return m
}

func kinds(events []report.Event) []report.Kind {
	out := make([]report.Kind, len(events))
	for i, evt := range events {
		out[i] = evt.Kind
	}
	return out
}

// TestRunnerTransitionsBetweenTrackedPhases drives a two-cycle phase to
// readiness and checks the event stream and the published announcement.
func TestRunnerTransitionsBetweenTrackedPhases(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t,
		phase.Config{Phase: "load", NextPhase: "game"},
		phase.Config{Phase: "game"},
	)
	emitter := &collectEmitter{}
	pub := pubmem.New()
	r := New(manager, emitter, pub, newFakeClock(), Config{
		InitialPhase: "load",
		Topic:        "phase-transitions",
	}, zap.NewNop())

	require.NoError(t, r.Register("load", WaitCycles(2)))

	require.NoError(t, r.begin("load"))
	for i := 0; i < 4; i++ {
		halted, err := r.runCycle(context.Background())
		require.NoError(t, err)
		require.False(t, halted)
	}

	events := emitter.snapshot()
	require.Equal(t, []report.Kind{
		report.KindRunStart,
		report.KindCycle, // 0/2
		report.KindCycle, // 1/2
		report.KindCycle, // 2/2
		report.KindTransition,
		report.KindRunEnd,
		report.KindRunStart, // game
		report.KindCycle,    // first game cycle
	}, kinds(events))

	// The pad is hidden: it delays readiness without touching the
	// visible aggregate.
	require.Equal(t, tracker.Progress{}, events[2].Visible)
	require.Equal(t, tracker.Progress{Done: 1, Total: 2}, events[2].Complete)
	require.True(t, events[3].Ready)
	require.Equal(t, "game", events[4].NextPhase)
	require.Equal(t, report.OutcomeTransitioned, events[5].Outcome)
	require.Equal(t, "game", events[6].Phase)
	// Each activation gets its own run ID.
	require.NotEqual(t, events[0].RunID, events[6].RunID)

	// Cycles are numbered from zero within each run, including the run
	// started by the transition.
	require.Equal(t, uint64(0), events[1].Cycle)
	require.Equal(t, uint64(2), events[3].Cycle)
	require.Equal(t, "game", events[7].Phase)
	require.Equal(t, uint64(0), events[7].Cycle)
	require.Equal(t, events[6].RunID, events[7].RunID)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "phase-transitions", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "load", payload["from"])
	require.Equal(t, "game", payload["to"])
}

// TestRunnerHaltsOnUntrackedNextPhase stops the loop when a transition
// leads out of the tracked phases.
func TestRunnerHaltsOnUntrackedNextPhase(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, phase.Config{Phase: "load", NextPhase: "done"})
	emitter := &collectEmitter{}
	r := New(manager, emitter, nil, newFakeClock(), Config{InitialPhase: "load"}, zap.NewNop())

	require.NoError(t, r.begin("load"))
	halted, err := r.runCycle(context.Background())
	require.NoError(t, err)
	require.True(t, halted)

	_, active := manager.Active()
	require.False(t, active)
	events := emitter.snapshot()
	require.Equal(t, report.KindRunEnd, events[len(events)-1].Kind)
	require.Equal(t, report.OutcomeTransitioned, events[len(events)-1].Outcome)
}

// TestRunnerParallelTasksAllRecorded checks the cycle fence: every
// task's contribution is in the snapshot.
func TestRunnerParallelTasksAllRecorded(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, phase.Config{Phase: "load", NextPhase: "game"})
	emitter := &collectEmitter{}
	r := New(manager, emitter, nil, newFakeClock(), Config{
		InitialPhase: "load",
		Concurrency:  3,
	}, zap.NewNop())

	const n = 16
	for i := 0; i < n; i++ {
		ready := i%2 == 0
		require.NoError(t, r.Register("load", func(context.Context, *TaskContext) tracker.Contribution {
			return tracker.FromBool(ready)
		}))
	}

	require.NoError(t, r.begin("load"))
	_, err := r.runCycle(context.Background())
	require.NoError(t, err)

	events := emitter.snapshot()
	require.Equal(t, report.KindCycle, events[1].Kind)
	require.Equal(t, tracker.Progress{Done: n / 2, Total: n}, events[1].Visible)
	require.False(t, events[1].Ready)
}

// TestRunnerRunStopsOnContextCancel ends the active run as stopped.
func TestRunnerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, phase.Config{Phase: "load", NextPhase: "game"})
	emitter := &collectEmitter{}
	r := New(manager, emitter, nil, newFakeClock(), Config{
		InitialPhase: "load",
		Tick:         5 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, r.Register("load", func(context.Context, *TaskContext) tracker.Contribution {
		return tracker.Progress{Done: 0, Total: 1}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, evt := range emitter.snapshot() {
			if evt.Kind == report.KindCycle {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	events := emitter.snapshot()
	last := events[len(events)-1]
	require.Equal(t, report.KindRunEnd, last.Kind)
	require.Equal(t, report.OutcomeStopped, last.Outcome)
	_, active := manager.Active()
	require.False(t, active)
}

// TestWaitCycles walks the helper through its count progression.
func TestWaitCycles(t *testing.T) {
	t.Parallel()

	task := WaitCycles(2)
	tc := &TaskContext{Phase: "load", Locals: make(map[string]any)}

	hidden := func(done, total uint32) tracker.HiddenProgress {
		return tracker.HiddenProgress{Progress: tracker.Progress{Done: done, Total: total}}
	}
	require.Equal(t, hidden(0, 2), task(context.Background(), tc))
	require.Equal(t, hidden(1, 2), task(context.Background(), tc))
	require.Equal(t, hidden(2, 2), task(context.Background(), tc))
	// Saturates once ready.
	require.Equal(t, hidden(2, 2), task(context.Background(), tc))
}

// TestWaitFor flips to ready once the clock passes the deadline.
func TestWaitFor(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	task := WaitFor(time.Second, clk)
	tc := &TaskContext{Phase: "load", Locals: make(map[string]any)}

	contrib := task(context.Background(), tc)
	hidden, ok := contrib.(tracker.HiddenProgress)
	require.True(t, ok)
	require.False(t, hidden.IsReady())

	clk.Advance(2 * time.Second)
	hidden, ok = task(context.Background(), tc).(tracker.HiddenProgress)
	require.True(t, ok)
	require.True(t, hidden.IsReady())
}

// TestRegisterUnknownPhase rejects tasks for untracked phases.
func TestRegisterUnknownPhase(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, phase.Config{Phase: "load"})
	r := New(manager, nil, nil, newFakeClock(), Config{InitialPhase: "load"}, zap.NewNop())
	require.ErrorIs(t, r.Register("menu", WaitCycles(1)), phase.ErrUnknownPhase)
}
