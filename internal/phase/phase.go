// Package phase manages the lifecycle of progress tracking: which
// application phase is active, the counter scoped to it, per-cycle
// resets, and the transition decision once a cycle's aggregate is
// complete.
package phase

import "fmt"

// Phase identifies an application mode during which a fixed set of
// tasks reports progress toward a single completion goal. It is an
// opaque label; the package never interprets its contents.
type Phase string

// Config declares one tracked phase.
type Config struct {
	// Phase is the phase this configuration tracks. Required.
	Phase Phase
	// NextPhase, when set, is the phase to transition to once the
	// complete aggregate reaches readiness. When empty, readiness is
	// observable but no transition is requested.
	NextPhase Phase
	// TrackAssets enables the optional asset loading integration for
	// this phase.
	TrackAssets bool
}

func (c Config) validate() error {
	if c.Phase == "" {
		return fmt.Errorf("phase is required")
	}
	if c.NextPhase == c.Phase {
		return fmt.Errorf("phase %q cannot transition to itself", c.Phase)
	}
	return nil
}
