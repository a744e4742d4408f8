package storage

import (
	"database/sql"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage: closed")

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// WatcherKey identifies a watcher: "notify me when ActivityName starts, in ChannelID".
type WatcherKey struct {
	GuildID      string
	UserID       string
	ActivityName string
	ChannelID    string
}

// Watcher is a snapshot of one activity_watcher row. Mutating store calls
// return fresh snapshots; the row is the source of truth.
type Watcher struct {
	ID           int64
	GuildID      string
	UserID       string
	ActivityName string
	ChannelID    string

	LastTriggered        *time.Time
	SilencedUntil        *time.Time
	SilencedIndefinitely bool
}

func (w Watcher) Key() WatcherKey {
	return WatcherKey{GuildID: w.GuildID, UserID: w.UserID, ActivityName: w.ActivityName, ChannelID: w.ChannelID}
}

// SilencedAt reports whether a manual or automatic silence is in effect at now.
func (w Watcher) SilencedAt(now time.Time) bool {
	if w.SilencedIndefinitely {
		return true
	}
	return w.SilencedUntil != nil && w.SilencedUntil.After(now)
}

type Message struct {
	ID        int64
	WatcherID int64
	Text      string
}

// Trigger groups a watcher with its candidate messages.
type Trigger struct {
	Watcher  Watcher
	Messages []Message
}

type RecordedActivity struct {
	UserID       string
	ActivityName string
	FirstSeen    time.Time
	LastSeen     time.Time
}

// WatcherFilter selects watchers owned by one user in one channel.
// An empty ActivityName matches every activity; a nil Silenced matches both states.
type WatcherFilter struct {
	GuildID      string
	UserID       string
	ChannelID    string
	ActivityName string
	Silenced     *bool
	Now          time.Time // reference time for Silenced; zero means time.Now()
}

type Stats struct {
	Watchers   int64 `db:"watchers"`
	Messages   int64 `db:"messages"`
	Activities int64 `db:"activities"`
	Silenced   int64 `db:"silenced"`
}

type watcherRow struct {
	ID                   int64         `db:"id"`
	GuildID              string        `db:"guild_id"`
	UserID               string        `db:"user_id"`
	ActivityName         string        `db:"activity_name"`
	ChannelID            string        `db:"channel_id"`
	LastTriggered        sql.NullInt64 `db:"last_triggered"`
	SilencedUntil        sql.NullInt64 `db:"silenced_until"`
	SilencedIndefinitely bool          `db:"silenced_indefinitely"`
}

const watcherCols = `id, guild_id, user_id, activity_name, channel_id, last_triggered, silenced_until, silenced_indefinitely`

func (r watcherRow) toWatcher() Watcher {
	return Watcher{
		ID:                   r.ID,
		GuildID:              r.GuildID,
		UserID:               r.UserID,
		ActivityName:         r.ActivityName,
		ChannelID:            r.ChannelID,
		LastTriggered:        fromMillis(r.LastTriggered),
		SilencedUntil:        fromMillis(r.SilencedUntil),
		SilencedIndefinitely: r.SilencedIndefinitely,
	}
}

func toWatchers(rows []watcherRow) []Watcher {
	out := make([]Watcher, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toWatcher())
	}
	return out
}

type messageRow struct {
	ID        int64  `db:"id"`
	WatcherID int64  `db:"activity_watcher"`
	Text      string `db:"message"`
}

const messageCols = `id, activity_watcher, message`

func (r messageRow) toMessage() Message {
	return Message{ID: r.ID, WatcherID: r.WatcherID, Text: r.Text}
}

func toMessages(rows []messageRow) []Message {
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out
}

// Timestamps are stored as unix milliseconds.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}
