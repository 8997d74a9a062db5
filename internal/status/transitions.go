package status

import "fmt"

// Allowed reports whether an item may move from one status to another.
//
// Self transitions are always allowed so field-only updates are recorded
// through the same path. The only way into a working status is from the ready
// status of the same step.
func Allowed(from, to Status) bool {
	if from == to {
		return true
	}
	if to.Phase() == PhaseUnknown {
		return false
	}
	if to.IsWorking() {
		step, ok := ResumePointFor(from)
		return ok && WorkingFor(step) == to
	}
	switch from.Phase() {
	case PhaseDiscovery, PhaseReady:
		// Rerouting between resume points, straight to failed when the
		// attempt budget runs out before the step starts, or to review when
		// the remaining step was skipped.
		return to.IsSelectable() || to == Failed || to == PendingReview
	case PhaseWorking:
		// Forward to any ready or terminal status (callers may route custom
		// return statuses), or back to the same step's resume point.
		return to.Phase() == PhaseReady || to.IsTerminal() || to == ReadyAfterWorking(from)
	case PhaseReview, PhaseRejected, PhaseFailed:
		// Terminal items only leave through a manual re-enrichment.
		return to.IsSelectable()
	default:
		return false
	}
}

// CheckTransition returns an error describing an illegal move.
func CheckTransition(from, to Status) error {
	if _, ok := Parse(string(to)); !ok {
		return fmt.Errorf("unknown target status %q", to)
	}
	if !Allowed(from, to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	return nil
}
