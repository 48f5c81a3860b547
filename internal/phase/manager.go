package phase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/tracker"
)

// Sentinel errors for lifecycle misuse. Recording or reading progress
// outside an active phase is a configuration bug (a task scheduled into
// the wrong execution window) and is surfaced loudly rather than
// silently ignored.
var (
	// ErrPhaseInactive signals counter access while no tracked phase is
	// active.
	ErrPhaseInactive = errors.New("no active tracked phase")
	// ErrPhaseActive signals an Enter for a phase that is already active.
	ErrPhaseActive = errors.New("phase already active")
	// ErrUnknownPhase signals an operation on a phase the manager was
	// not configured to track.
	ErrUnknownPhase = errors.New("phase is not tracked")
)

// Transitioner is the host mechanism for "move to phase X". The manager
// invokes it at most once per activation, after a cycle's complete
// aggregate reaches readiness.
type Transitioner interface {
	RequestTransition(ctx context.Context, from, to Phase) error
}

// Decision is the outcome of one transition check.
type Decision struct {
	// Ready is done >= total over the complete aggregate.
	Ready bool
	// From is the active phase the decision was made for.
	From Phase
	// To is the configured next phase; empty when none is configured.
	To Phase
	// Requested is true when a transition was actually asked for.
	Requested bool
}

// Manager is the cycle lifecycle controller. It owns the counter for
// the active phase: created on Enter, reset to the persisted baseline
// at every cycle start, destroyed on Exit. At most one tracked phase is
// active at a time.
//
// Lifecycle operations take the write lock; the record/read paths only
// take the read lock to fetch the counter pointer, so concurrent tasks
// still accumulate lock-free on the counter's atomics.
type Manager struct {
	mu      sync.RWMutex
	configs map[Phase]Config
	logger  *zap.Logger

	active       Phase
	counter      *tracker.Counter
	transitioned bool
}

// NewManager builds a Manager tracking the given phases. Configurations
// must not repeat a phase.
func NewManager(logger *zap.Logger, configs ...Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	byPhase := make(map[Phase]Config, len(configs))
	for _, cfg := range configs {
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("invalid phase config: %w", err)
		}
		if _, dup := byPhase[cfg.Phase]; dup {
			return nil, fmt.Errorf("phase %q configured twice", cfg.Phase)
		}
		byPhase[cfg.Phase] = cfg
	}
	return &Manager{
		configs: byPhase,
		logger:  logger,
	}, nil
}

// Tracks reports whether p is one of the configured phases.
func (m *Manager) Tracks(p Phase) bool {
	_, ok := m.configs[p]
	return ok
}

// Active returns the currently active phase, if any.
func (m *Manager) Active() (Phase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != ""
}

// Enter activates tracking for p, creating a fresh zeroed counter.
// It fires exactly once per activation; entering while any tracked
// phase is active is an error.
func (m *Manager) Enter(p Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[p]; !ok {
		return fmt.Errorf("enter %q: %w", p, ErrUnknownPhase)
	}
	if m.active != "" {
		return fmt.Errorf("enter %q while %q is active: %w", p, m.active, ErrPhaseActive)
	}
	m.active = p
	m.counter = tracker.NewCounter()
	m.transitioned = false
	m.logger.Info("phase entered", zap.String("phase", string(p)))
	return nil
}

// Exit deactivates tracking for p and destroys its counter. Further
// records or reads fail with ErrPhaseInactive until the next Enter.
func (m *Manager) Exit(p Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" || m.active != p {
		return fmt.Errorf("exit %q: %w", p, ErrPhaseInactive)
	}
	m.active = ""
	m.counter = nil
	m.logger.Info("phase exited", zap.String("phase", string(p)))
	return nil
}

// BeginCycle resets the running counters back to the persisted
// baseline. The scheduler calls it once per cycle, before any tracked
// task runs.
func (m *Manager) BeginCycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counter == nil {
		return ErrPhaseInactive
	}
	m.counter.ResetCycle()
	return nil
}

// Counter returns the live counter for the active phase. Tasks hold the
// returned pointer for the duration of a cycle and record on it
// directly.
func (m *Manager) Counter() (*tracker.Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.counter == nil {
		return nil, ErrPhaseInactive
	}
	return m.counter, nil
}

// Apply records a task's contribution against the active counter.
func (m *Manager) Apply(contrib tracker.Contribution) error {
	c, err := m.Counter()
	if err != nil {
		return err
	}
	contrib.ApplyTo(c)
	return nil
}

// Record adds a visible contribution for this cycle.
func (m *Manager) Record(p tracker.Progress) error {
	return m.Apply(p)
}

// RecordHidden adds a hidden contribution for this cycle.
func (m *Manager) RecordHidden(p tracker.HiddenProgress) error {
	return m.Apply(p)
}

// Persist folds p into the phase baseline so it counts in every future
// cycle. Must be called from the exclusive window between cycles.
func (m *Manager) Persist(p tracker.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counter == nil {
		return ErrPhaseInactive
	}
	m.counter.Persist(p)
	return nil
}

// PersistHidden is Persist for the hidden bucket.
func (m *Manager) PersistHidden(p tracker.HiddenProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counter == nil {
		return ErrPhaseInactive
	}
	m.counter.PersistHidden(p)
	return nil
}

// Visible returns the visible aggregate for the active phase.
func (m *Manager) Visible() (tracker.Progress, error) {
	c, err := m.Counter()
	if err != nil {
		return tracker.Progress{}, err
	}
	return c.Visible(), nil
}

// Complete returns the complete aggregate (visible plus hidden) for the
// active phase.
func (m *Manager) Complete() (tracker.Progress, error) {
	c, err := m.Counter()
	if err != nil {
		return tracker.Progress{}, err
	}
	return c.Complete(), nil
}

// CheckTransition reads the complete aggregate and, when it is ready
// and a next phase is configured, requests the transition through t.
// The request fires at most once per activation: repeated ready
// readings in the same cycle (or later cycles before the host performs
// the exit) do not re-trigger it. Call only after every task's
// contribution for the cycle has been recorded.
func (m *Manager) CheckTransition(ctx context.Context, t Transitioner) (Decision, error) {
	m.mu.Lock()
	if m.counter == nil {
		m.mu.Unlock()
		return Decision{}, ErrPhaseInactive
	}
	cfg := m.configs[m.active]
	complete := m.counter.Complete()
	d := Decision{
		Ready: complete.IsReady(),
		From:  m.active,
		To:    cfg.NextPhase,
	}
	fire := d.Ready && cfg.NextPhase != "" && t != nil && !m.transitioned
	if fire {
		m.transitioned = true
	}
	m.mu.Unlock()

	if !fire {
		return d, nil
	}
	// Invoked outside the lock so the transitioner may call Exit/Enter.
	if err := t.RequestTransition(ctx, d.From, d.To); err != nil {
		return d, fmt.Errorf("request transition %s -> %s: %w", d.From, d.To, err)
	}
	d.Requested = true
	return d, nil
}

// ConfigFor returns the configuration for p.
func (m *Manager) ConfigFor(p Phase) (Config, bool) {
	cfg, ok := m.configs[p]
	return cfg, ok
}
