package tracker

// Contribution is the closed set of values a task can return to report
// progress: a visible Progress, a HiddenProgress, or a Pair combining
// two of them. There are deliberately no other implementations.
type Contribution interface {
	// ApplyTo accounts the value into the counter for this cycle.
	ApplyTo(c *Counter)
}

// ApplyTo records p as a visible contribution.
func (p Progress) ApplyTo(c *Counter) {
	c.Record(p)
}

// ApplyTo records p as a hidden contribution.
func (p HiddenProgress) ApplyTo(c *Counter) {
	c.RecordHidden(p)
}

// Pair lets a task report two contributions at once, typically one
// visible and one hidden.
type Pair struct {
	A Contribution
	B Contribution
}

// ApplyTo applies both halves; nil halves are skipped.
func (p Pair) ApplyTo(c *Counter) {
	if p.A != nil {
		p.A.ApplyTo(c)
	}
	if p.B != nil {
		p.B.ApplyTo(c)
	}
}
