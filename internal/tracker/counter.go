package tracker

import "sync/atomic"

// Counter accumulates the progress reported by every task running in
// the current cycle. The running fields are atomics so that tasks on
// different goroutines can record concurrently without a lock and
// without losing updates.
//
// The persisted baselines are plain values: they are only touched by
// Persist and ResetCycle, both of which require the caller to hold
// exclusive access (in practice, they run at the cycle boundary while
// no task is recording). One Counter exists per active tracked phase.
type Counter struct {
	done        atomic.Uint32
	total       atomic.Uint32
	hiddenDone  atomic.Uint32
	hiddenTotal atomic.Uint32

	persisted       Progress
	persistedHidden Progress
}

// NewCounter returns a Counter with all running and baseline fields
// zeroed, as created when a tracked phase is entered.
func NewCounter() *Counter {
	return &Counter{}
}

// Record adds one visible contribution to the running totals for the
// current cycle. Done is clamped to the contribution's own Total so a
// misbehaving task reporting done > total cannot inflate the aggregate
// beyond what it contributed. The clamp is per contribution, before
// summing; two malformed reports clamp independently.
func (c *Counter) Record(p Progress) {
	c.total.Add(p.Total)
	c.done.Add(min(p.Done, p.Total))
}

// RecordHidden adds a hidden contribution. Identical clamp-and-add
// semantics against the hidden running counters.
func (c *Counter) RecordHidden(p HiddenProgress) {
	c.hiddenTotal.Add(p.Total)
	c.hiddenDone.Add(min(p.Done, p.Total))
}

// Visible returns a snapshot of the visible aggregate for this cycle.
// It excludes hidden contributions; use it for progress bars and other
// user-facing indicators. The snapshot reflects the full cycle only
// when called after every task has finished recording — the scheduler
// provides that fence, not the Counter.
func (c *Counter) Visible() Progress {
	return Progress{
		Done:  c.done.Load(),
		Total: c.total.Load(),
	}
}

// Complete returns the visible and hidden aggregates summed. This is
// the authoritative total for the transition decision, since hidden
// work still gates completion.
func (c *Counter) Complete() Progress {
	return Progress{
		Done:  c.done.Load() + c.hiddenDone.Load(),
		Total: c.total.Load() + c.hiddenTotal.Load(),
	}
}

// Persist folds p into the visible baseline so it counts in every
// future cycle of this phase without being re-reported, and records it
// into the current cycle as well. Requires exclusive access: must not
// run concurrently with ResetCycle, other Persist calls, or recording
// tasks.
func (c *Counter) Persist(p Progress) {
	c.Record(p)
	c.persisted = c.persisted.Add(p)
}

// PersistHidden is Persist for the hidden bucket.
func (c *Counter) PersistHidden(p HiddenProgress) {
	c.RecordHidden(p)
	c.persistedHidden = c.persistedHidden.Add(p.Progress)
}

// ResetCycle sets the running counters back to the persisted baselines.
// The lifecycle controller calls this once at the start of every cycle,
// before any tracked task runs. Requires exclusive access.
func (c *Counter) ResetCycle() {
	c.done.Store(c.persisted.Done)
	c.total.Store(c.persisted.Total)
	c.hiddenDone.Store(c.persistedHidden.Done)
	c.hiddenTotal.Store(c.persistedHidden.Total)
}
