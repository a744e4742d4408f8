package trigger

import (
	"context"
	"errors"
	"time"

	"joinme/internal/storage"
)

var ErrInvalidInput = errors.New("invalid input")

// Dispatcher delivers one message into a channel.
type Dispatcher interface {
	Send(ctx context.Context, channelID, text string) error
}

// Store is the persistence surface the engine needs.
type Store interface {
	ResolveWatchers(ctx context.Context, guildID, userID, activityName string) ([]storage.Watcher, error)
	MessagesFor(ctx context.Context, watcherID int64) ([]storage.Message, error)
	MarkTriggered(ctx context.Context, id int64, eventStart, at time.Time) (storage.Watcher, bool, error)
	ExtendSilence(ctx context.Context, id int64, until time.Time) (storage.Watcher, bool, error)
	SilenceWatchers(ctx context.Context, f storage.WatcherFilter, until *time.Time, indefinite bool) ([]storage.Watcher, error)
	UnsilenceWatchers(ctx context.Context, f storage.WatcherFilter) ([]storage.Watcher, error)
	RecordActivity(ctx context.Context, userID, activityName string, at time.Time) error
}

// Clock returns the current wall time. Tests substitute a fixed clock.
type Clock func() time.Time

// ActivityEvent is one activity observed in a presence update.
type ActivityEvent struct {
	GuildID      string
	UserID       string
	ActivityName string
	StartedAt    time.Time
}

// Outcome is the result of running one watcher through the pipeline.
type Outcome struct {
	WatcherID int64
	ChannelID string
	Kind      OutcomeKind
	MessageID int64
	Err       error
}

type OutcomeKind string

const (
	OutcomeDispatched       OutcomeKind = "dispatched"
	OutcomeAlreadyTriggered OutcomeKind = "already_triggered"
	OutcomeSilenced         OutcomeKind = "silenced"
	OutcomeNoMessages       OutcomeKind = "no_messages"
	OutcomeLostRace         OutcomeKind = "lost_race"
	OutcomeDispatchFailed   OutcomeKind = "dispatch_failed"
	OutcomeNotSent          OutcomeKind = "not_sent"
	OutcomeFailed           OutcomeKind = "failed"
)

// Report collects the outcomes of one presence update.
type Report struct {
	EventID  string
	Outcomes []Outcome
	Errors   []error
}

// Count returns the number of outcomes of kind k.
func (r Report) Count(k OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == k {
			n++
		}
	}
	return n
}
