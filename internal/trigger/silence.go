package trigger

import (
	"context"
	"sync/atomic"
	"time"

	"joinme/internal/storage"
)

const DefaultDebounceWindow = 5 * time.Minute

// Silence is a manual silence request: either until a point in time or
// indefinitely until cleared.
type Silence struct {
	Until      time.Time
	Indefinite bool
}

func Indefinitely() Silence { return Silence{Indefinite: true} }

// SilenceUntil returns an indefinite silence when until is nil.
func SilenceUntil(until *time.Time) Silence {
	if until == nil {
		return Indefinitely()
	}
	return Silence{Until: *until}
}

// SilenceStore is the persistence surface the silence controller writes to.
type SilenceStore interface {
	ExtendSilence(ctx context.Context, id int64, until time.Time) (storage.Watcher, bool, error)
	SilenceWatchers(ctx context.Context, f storage.WatcherFilter, until *time.Time, indefinite bool) ([]storage.Watcher, error)
	UnsilenceWatchers(ctx context.Context, f storage.WatcherFilter) ([]storage.Watcher, error)
}

// SilenceController applies automatic debounce silences after a dispatch and
// manual silences on request. Manual calls always overwrite; automatic calls
// only ever lengthen an existing silence.
type SilenceController struct {
	store  SilenceStore
	clock  Clock
	window atomic.Int64
}

func NewSilenceController(store SilenceStore, clock Clock, window time.Duration) *SilenceController {
	if clock == nil {
		clock = time.Now
	}
	c := &SilenceController{store: store, clock: clock}
	c.SetWindow(window)
	return c
}

// SetWindow changes the debounce window. Non-positive values restore the default.
func (c *SilenceController) SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounceWindow
	}
	c.window.Store(int64(d))
}

func (c *SilenceController) Window() time.Duration { return time.Duration(c.window.Load()) }

// AutoSilence silences the watcher for the debounce window. applied is
// false when a longer or indefinite silence is already in place.
func (c *SilenceController) AutoSilence(ctx context.Context, watcherID int64) (storage.Watcher, bool, error) {
	return c.store.ExtendSilence(ctx, watcherID, c.clock().Add(c.Window()))
}

// Apply sets a manual silence on every watcher matching f, replacing any
// automatic or earlier manual silence.
func (c *SilenceController) Apply(ctx context.Context, f storage.WatcherFilter, s Silence) ([]storage.Watcher, error) {
	if s.Indefinite {
		return c.store.SilenceWatchers(ctx, f, nil, true)
	}
	until := s.Until
	return c.store.SilenceWatchers(ctx, f, &until, false)
}

// Clear removes timed and indefinite silences from every watcher matching f.
func (c *SilenceController) Clear(ctx context.Context, f storage.WatcherFilter) ([]storage.Watcher, error) {
	return c.store.UnsilenceWatchers(ctx, f)
}
