// Package runner implements the cycle scheduler that executes tracked
// tasks, aggregates their progress and drives phase transitions.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/phase"
	"github.com/jroyal/phasetrack/internal/report"
	"github.com/jroyal/phasetrack/internal/tracker"
)

// Clock abstracts time so tests can control it.
type Clock interface {
	Now() time.Time
}

// Publisher announces phase transitions to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Task is one unit of tracked work. It runs once per cycle while its
// phase is active and returns the contribution to fold into the cycle
// aggregate; a nil return contributes nothing.
type Task func(ctx context.Context, tc *TaskContext) tracker.Contribution

// TaskContext carries per-task state. Locals persist across cycles of
// one activation and are reset when the phase is re-entered.
type TaskContext struct {
	Phase  phase.Phase
	Cycle  uint64
	Locals map[string]any
}

// Config controls Runner behavior.
type Config struct {
	// Tick is the cycle interval.
	Tick time.Duration
	// Concurrency bounds how many tasks run at once within a cycle.
	Concurrency int
	// InitialPhase is entered when Run starts.
	InitialPhase phase.Phase
	// Topic, when set with a publisher, receives transition
	// announcements.
	Topic string
}

// Runner owns the cycle loop for the active phase. Each cycle it resets
// the counter to the persisted baseline, runs every registered task,
// waits for all of them, snapshots the aggregates and checks the
// transition decision exactly once.
type Runner struct {
	cfg       Config
	manager   *phase.Manager
	hub       report.Emitter
	publisher Publisher
	clock     Clock
	logger    *zap.Logger

	mu     sync.Mutex
	tasks  map[phase.Phase][]Task
	locals map[phase.Phase][]*TaskContext
	runID  uuid.UUID
	cycle  uint64
	halted bool
}

// New constructs a Runner.
func New(
	manager *phase.Manager,
	hub report.Emitter,
	publisher Publisher,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runner{
		cfg:       cfg,
		manager:   manager,
		hub:       hub,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		tasks:     make(map[phase.Phase][]Task),
		locals:    make(map[phase.Phase][]*TaskContext),
	}
}

// Register attaches tasks to a tracked phase. They run every cycle
// while that phase is active.
func (r *Runner) Register(p phase.Phase, tasks ...Task) error {
	if !r.manager.Tracks(p) {
		return fmt.Errorf("register tasks for %q: %w", p, phase.ErrUnknownPhase)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[p] = append(r.tasks[p], tasks...)
	return nil
}

// Run enters the initial phase and blocks, executing cycles until the
// context finishes or a transition leads out of the tracked phases.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.begin(r.cfg.InitialPhase); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stop()
			return nil
		case <-ticker.C:
			halted, err := r.runCycle(ctx)
			if err != nil {
				return err
			}
			if halted {
				r.logger.Info("runner halted after leaving tracked phases")
				return nil
			}
		}
	}
}

// begin activates a tracked phase under a fresh run ID with fresh task
// state.
func (r *Runner) begin(p phase.Phase) error {
	if err := r.manager.Enter(p); err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("new run id: %w", err)
	}

	r.mu.Lock()
	r.runID = id
	r.cycle = 0
	contexts := make([]*TaskContext, len(r.tasks[p]))
	for i := range contexts {
		contexts[i] = &TaskContext{Phase: p, Locals: make(map[string]any)}
	}
	r.locals[p] = contexts
	r.mu.Unlock()

	r.emit(report.Event{
		RunID: id,
		TS:    r.clock.Now(),
		Kind:  report.KindRunStart,
		Phase: string(p),
	})
	return nil
}

// runCycle executes one full cycle for the active phase. The WaitGroup
// join is the fence: no snapshot or transition check happens until
// every task has recorded.
func (r *Runner) runCycle(ctx context.Context) (bool, error) {
	active, ok := r.manager.Active()
	if !ok {
		return true, nil
	}

	r.mu.Lock()
	tasks := r.tasks[active]
	contexts := r.locals[active]
	cycle := r.cycle
	runID := r.runID
	r.mu.Unlock()

	if err := r.manager.BeginCycle(); err != nil {
		return false, err
	}

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, task := range tasks {
		tc := contexts[i]
		tc.Cycle = cycle
		wg.Add(1)
		sem <- struct{}{}
		go func(task Task, tc *TaskContext) {
			defer wg.Done()
			defer func() { <-sem }()
			contrib := task(ctx, tc)
			if contrib == nil {
				return
			}
			if err := r.manager.Apply(contrib); err != nil {
				r.logger.Warn("apply contribution failed",
					zap.String("phase", string(tc.Phase)),
					zap.Error(err),
				)
			}
		}(task, tc)
	}
	wg.Wait()

	visible, err := r.manager.Visible()
	if err != nil {
		return false, err
	}
	complete, err := r.manager.Complete()
	if err != nil {
		return false, err
	}

	r.emit(report.Event{
		RunID:    runID,
		TS:       r.clock.Now(),
		Kind:     report.KindCycle,
		Phase:    string(active),
		Cycle:    cycle,
		Visible:  visible,
		Complete: complete,
		Ready:    complete.IsReady(),
	})

	if _, err := r.manager.CheckTransition(ctx, r); err != nil {
		return false, err
	}

	r.mu.Lock()
	// A transition re-begins under a fresh run ID with the cycle count
	// already reset to zero; only advance within the same run.
	if r.runID == runID {
		r.cycle++
	}
	halted := r.halted
	r.mu.Unlock()
	return halted, nil
}

// RequestTransition implements phase.Transitioner. It announces the
// transition, closes out the current run and either starts a run in the
// next phase or halts the runner when the target is untracked.
func (r *Runner) RequestTransition(ctx context.Context, from, to phase.Phase) error {
	r.mu.Lock()
	runID := r.runID
	cycle := r.cycle
	r.mu.Unlock()

	now := r.clock.Now()
	r.emit(report.Event{
		RunID:     runID,
		TS:        now,
		Kind:      report.KindTransition,
		Phase:     string(from),
		Cycle:     cycle,
		NextPhase: string(to),
	})

	// The announcement is best-effort: a broker outage must not wedge
	// the transition itself.
	if r.publisher != nil && r.cfg.Topic != "" {
		payload := map[string]any{
			"run_id":    runID.String(),
			"from":      string(from),
			"to":        string(to),
			"timestamp": now.Format(time.RFC3339),
		}
		if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
			r.logger.Warn("publish transition failed",
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Error(err),
			)
		}
	}

	r.emit(report.Event{
		RunID:     runID,
		TS:        now,
		Kind:      report.KindRunEnd,
		Phase:     string(from),
		NextPhase: string(to),
		Outcome:   report.OutcomeTransitioned,
	})

	if err := r.manager.Exit(from); err != nil {
		return err
	}

	r.logger.Info("phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	if r.manager.Tracks(to) {
		return r.begin(to)
	}
	r.mu.Lock()
	r.halted = true
	r.mu.Unlock()
	return nil
}

// stop closes out the current run as stopped, if one is active.
func (r *Runner) stop() {
	active, ok := r.manager.Active()
	if !ok {
		return
	}
	r.mu.Lock()
	runID := r.runID
	r.mu.Unlock()

	r.emit(report.Event{
		RunID:   runID,
		TS:      r.clock.Now(),
		Kind:    report.KindRunEnd,
		Phase:   string(active),
		Outcome: report.OutcomeStopped,
	})
	if err := r.manager.Exit(active); err != nil {
		r.logger.Warn("exit on stop failed", zap.Error(err))
	}
}

func (r *Runner) emit(evt report.Event) {
	if r.hub == nil {
		return
	}
	r.hub.Emit(evt)
}
