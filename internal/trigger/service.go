package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"joinme/internal/storage"
	logx "joinme/pkg/logx"
)

// MaxMessageLen is the longest message text a channel accepts.
const MaxMessageLen = 2000

// MaxChoices caps suggestion lists; platform autocomplete accepts 25.
const MaxChoices = 25

// CommandStore is the persistence surface behind user commands.
type CommandStore interface {
	AddTrigger(ctx context.Context, key storage.WatcherKey, text string, now time.Time) (storage.Message, error)
	ListTriggers(ctx context.Context, f storage.WatcherFilter) ([]storage.Trigger, error)
	RemoveTrigger(ctx context.Context, messageID int64, userID, channelID string) (bool, error)
	RemoveAllTriggers(ctx context.Context, f storage.WatcherFilter) ([]storage.Message, error)
	GetMessageIfAllowed(ctx context.Context, messageID int64, userID, channelID string) (storage.Message, bool, error)
	MessagesInChannel(ctx context.Context, userID, channelID string, limit int) ([]storage.Message, error)
	ActivitiesWithMessages(ctx context.Context, f storage.WatcherFilter, limit int) ([]string, error)
	RecentActivities(ctx context.Context, userID string, limit int) ([]storage.RecordedActivity, error)
}

// Scope is the (guild, user, channel) a command acts in.
type Scope struct {
	GuildID   string
	UserID    string
	ChannelID string
}

func (s Scope) filter(activity string, now time.Time) storage.WatcherFilter {
	return storage.WatcherFilter{
		GuildID:      s.GuildID,
		UserID:       s.UserID,
		ChannelID:    s.ChannelID,
		ActivityName: strings.TrimSpace(activity),
		Now:          now,
	}
}

// Service implements the trigger commands users issue.
type Service struct {
	store   CommandStore
	silence *SilenceController
	clock   Clock
	log     logx.Logger
}

// NewService wires the command API. silence is shared with the ingestor so
// manual and automatic silences go through one controller.
func NewService(store CommandStore, silence *SilenceController, clock Clock, log logx.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, silence: silence, clock: clock, log: log.With(logx.String("comp", "commands"))}
}

// AddTrigger registers text to be sent in the scope's channel when activity starts.
func (s *Service) AddTrigger(ctx context.Context, sc Scope, activity, text string) (storage.Message, error) {
	activity = strings.TrimSpace(activity)
	text = strings.TrimSpace(text)
	switch {
	case activity == "":
		return storage.Message{}, fmt.Errorf("%w: activity name is empty", ErrInvalidInput)
	case text == "":
		return storage.Message{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	case utf8.RuneCountInString(text) > MaxMessageLen:
		return storage.Message{}, fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, MaxMessageLen)
	}
	key := storage.WatcherKey{GuildID: sc.GuildID, UserID: sc.UserID, ActivityName: activity, ChannelID: sc.ChannelID}
	msg, err := s.store.AddTrigger(ctx, key, text, s.clock())
	if err != nil {
		return storage.Message{}, err
	}
	s.log.Info("trigger added", logx.String("user_id", sc.UserID), logx.String("activity", activity), logx.Int64("message_id", msg.ID))
	return msg, nil
}

// ListTriggers returns the scope's triggers, optionally for one activity.
func (s *Service) ListTriggers(ctx context.Context, sc Scope, activity string) ([]storage.Trigger, error) {
	return s.store.ListTriggers(ctx, sc.filter(activity, s.clock()))
}

// RemoveTrigger deletes one message owned by the user in the channel.
func (s *Service) RemoveTrigger(ctx context.Context, messageID int64, userID, channelID string) (bool, error) {
	ok, err := s.store.RemoveTrigger(ctx, messageID, userID, channelID)
	if err == nil && ok {
		s.log.Info("trigger removed", logx.String("user_id", userID), logx.Int64("message_id", messageID))
	}
	return ok, err
}

// RemoveAllTriggers deletes the scope's watchers and their messages.
func (s *Service) RemoveAllTriggers(ctx context.Context, sc Scope, activity string) ([]storage.Message, error) {
	removed, err := s.store.RemoveAllTriggers(ctx, sc.filter(activity, s.clock()))
	if err == nil && len(removed) > 0 {
		s.log.Info("triggers removed", logx.String("user_id", sc.UserID), logx.String("activity", activity), logx.Int("count", len(removed)))
	}
	return removed, err
}

// SilenceTriggers silences the scope's watchers until the given time, or
// indefinitely when until is nil.
func (s *Service) SilenceTriggers(ctx context.Context, sc Scope, activity string, until *time.Time) ([]storage.Watcher, error) {
	ws, err := s.silence.Apply(ctx, sc.filter(activity, s.clock()), SilenceUntil(until))
	if err == nil && len(ws) > 0 {
		s.log.Info("triggers silenced", logx.String("user_id", sc.UserID), logx.String("activity", activity), logx.Bool("indefinite", until == nil), logx.Int("count", len(ws)))
	}
	return ws, err
}

// UnsilenceTriggers clears silences on the scope's watchers.
func (s *Service) UnsilenceTriggers(ctx context.Context, sc Scope, activity string) ([]storage.Watcher, error) {
	return s.silence.Clear(ctx, sc.filter(activity, s.clock()))
}

// PreviewMessage returns a message the user owns in the channel.
func (s *Service) PreviewMessage(ctx context.Context, messageID int64, userID, channelID string) (storage.Message, bool, error) {
	return s.store.GetMessageIfAllowed(ctx, messageID, userID, channelID)
}

// SuggestActivities lists activities recently seen for the user, filtered
// by a case-insensitive substring.
func (s *Service) SuggestActivities(ctx context.Context, userID, query string) ([]string, error) {
	acts, err := s.store.RecentActivities(ctx, userID, MaxChoices)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(acts))
	for _, a := range acts {
		names = append(names, a.ActivityName)
	}
	return matchChoices(names, query), nil
}

// ActivityChoices lists activities with messages in the scope. silenced
// restricts the list to silenced (true) or active (false) watchers.
func (s *Service) ActivityChoices(ctx context.Context, sc Scope, silenced *bool, query string) ([]string, error) {
	f := sc.filter("", s.clock())
	f.Silenced = silenced
	names, err := s.store.ActivitiesWithMessages(ctx, f, MaxChoices)
	if err != nil {
		return nil, err
	}
	return matchChoices(names, query), nil
}

// MessageChoices lists the user's newest messages in the channel.
func (s *Service) MessageChoices(ctx context.Context, userID, channelID string) ([]storage.Message, error) {
	return s.store.MessagesInChannel(ctx, userID, channelID, MaxChoices)
}

func matchChoices(names []string, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if q == "" || strings.Contains(strings.ToLower(n), q) {
			out = append(out, n)
		}
		if len(out) == MaxChoices {
			break
		}
	}
	return out
}
