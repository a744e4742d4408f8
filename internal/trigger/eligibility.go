package trigger

import (
	"time"

	"joinme/internal/storage"
)

type Decision int

const (
	DecisionEligible Decision = iota
	DecisionAlreadyTriggered
	DecisionSilenced
)

func (d Decision) String() string {
	switch d {
	case DecisionEligible:
		return "eligible"
	case DecisionAlreadyTriggered:
		return "already_triggered"
	case DecisionSilenced:
		return "silenced"
	default:
		return "unknown"
	}
}

// Evaluate decides whether w should fire for an activity that started at
// startedAt, evaluated at now.
//
// A watcher that already fired at or after the activity start is skipped
// first, so duplicate signals for one session never count as silenced.
// Otherwise any manual or automatic silence in effect suppresses it.
func Evaluate(w storage.Watcher, startedAt, now time.Time) Decision {
	if w.LastTriggered != nil && w.LastTriggered.UnixMilli() >= startedAt.UnixMilli() {
		return DecisionAlreadyTriggered
	}
	if w.SilencedAt(now) {
		return DecisionSilenced
	}
	return DecisionEligible
}
