package trigger

import (
	"context"
	"time"

	"joinme/internal/storage"
)

// Recorder persists that a watcher fired.
type Recorder struct {
	store Store
	clock Clock
}

func NewRecorder(store Store, clock Clock) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{store: store, clock: clock}
}

// Record sets last_triggered for the activity that started at startedAt.
// ok is false when another event already recorded this activity start; the
// caller lost the race and must not auto-silence.
func (r *Recorder) Record(ctx context.Context, w storage.Watcher, startedAt time.Time) (storage.Watcher, bool, error) {
	at := r.clock()
	if startedAt.After(at) {
		// Upstream clock ahead of ours; never store a value below the start.
		at = startedAt
	}
	return r.store.MarkTriggered(ctx, w.ID, startedAt, at)
}
