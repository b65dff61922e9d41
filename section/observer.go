package section

import "time"

// TransitionObservation describes one settled Trigger call: the target, the
// requested mode, how long the transition took, and whether it landed.
type TransitionObservation struct {
	SectionID string
	Mode      Mode
	Beats     float64
	Duration  time.Duration
	Success   bool
	// Reason classifies failures: "not_found", "transitioning" or
	// "unknown_mode". Empty on success.
	Reason string
}

// Observer receives transition outcomes. The manager calls it synchronously
// after each Trigger settles, so implementations must be fast.
type Observer interface {
	ObserveTransition(TransitionObservation)
}
