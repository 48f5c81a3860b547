// Package tracker implements the progress aggregation core: Progress
// values reported by tasks and the lock-free Counter that combines them
// for the current execution cycle.
package tracker

// Progress is the fractional completion reported by a single task: Done
// units finished out of Total expected. Values are combined by
// componentwise addition, so each task contributes a disjoint summand
// and the order of reporting does not matter.
//
// A Progress with Done >= Total is "ready". Producers are expected to
// keep Done <= Total but the Counter clamps each contribution rather
// than trust it.
type Progress struct {
	// Done is the number of work units completed so far this cycle.
	Done uint32
	// Total is the number of work units the task expects overall.
	Total uint32
}

// FromBool converts a pass/fail result into a single unit of work:
// true is {1,1} (ready), false is {0,1}.
func FromBool(ok bool) Progress {
	p := Progress{Total: 1}
	if ok {
		p.Done = 1
	}
	return p
}

// Add returns the componentwise sum of p and other.
func (p Progress) Add(other Progress) Progress {
	return Progress{
		Done:  p.Done + other.Done,
		Total: p.Total + other.Total,
	}
}

// IsReady reports whether the tracked work is complete. An empty
// Progress {0,0} is ready; a phase with nothing to report completes
// immediately.
func (p Progress) IsReady() bool {
	return p.Done >= p.Total
}

// Fraction returns Done/Total as a float for display purposes. When
// Total is zero the result is NaN (or +Inf if Done is nonzero); callers
// rendering progress must check Total > 0 first. A zero-total Progress
// usually means "nothing to report yet".
func (p Progress) Fraction() float64 {
	return float64(p.Done) / float64(p.Total)
}

// HiddenProgress is a Progress that is excluded from user-facing
// aggregates but still counts toward true completion. Use it for
// bookkeeping work that should gate the transition without moving
// progress bars.
type HiddenProgress struct {
	Progress
}
