package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AddTrigger get-or-creates the watcher for key and attaches a new message
// to it, in one transaction.
func (s *Store) AddTrigger(ctx context.Context, key WatcherKey, text string, now time.Time) (Message, error) {
	var msg Message
	err := s.withTx(ctx, "add trigger", func(tx *sqlx.Tx) error {
		w, err := getOrCreateWatcher(ctx, tx, key, now)
		if err != nil {
			return err
		}
		var row messageRow
		err = tx.GetContext(ctx, &row,
			`INSERT INTO activity_message (activity_watcher, message, created_at)
			 VALUES (?, ?, ?) RETURNING `+messageCols,
			w.ID, text, toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		msg = row.toMessage()
		return nil
	})
	return msg, err
}

// MessagesFor returns the candidate messages of one watcher.
func (s *Store) MessagesFor(ctx context.Context, watcherID int64) ([]Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+messageCols+` FROM activity_message WHERE activity_watcher = ? ORDER BY id`,
		watcherID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages for watcher %d: %w", watcherID, err)
	}
	return toMessages(rows), nil
}

// ListTriggers returns the watchers matching f with their messages.
func (s *Store) ListTriggers(ctx context.Context, f WatcherFilter) ([]Trigger, error) {
	watchers, err := s.FindWatchers(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(watchers) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(watchers))
	for _, w := range watchers {
		ids = append(ids, w.ID)
	}
	query, args, err := sqlx.In(
		`SELECT `+messageCols+` FROM activity_message WHERE activity_watcher IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("building message query: %w", err)
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	byWatcher := make(map[int64][]Message, len(watchers))
	for _, r := range rows {
		byWatcher[r.WatcherID] = append(byWatcher[r.WatcherID], r.toMessage())
	}
	out := make([]Trigger, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, Trigger{Watcher: w, Messages: byWatcher[w.ID]})
	}
	return out, nil
}

// GetMessageIfAllowed returns a message only when it belongs to a watcher
// of userID in channelID.
func (s *Store) GetMessageIfAllowed(ctx context.Context, messageID int64, userID, channelID string) (Message, bool, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT m.id, m.activity_watcher, m.message
		 FROM activity_message m
		 JOIN activity_watcher w ON w.id = m.activity_watcher
		 WHERE m.id = ? AND w.user_id = ? AND w.channel_id = ?`,
		messageID, userID, channelID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("getting message %d: %w", messageID, err)
	}
	return row.toMessage(), true, nil
}

// MessagesInChannel lists the user's message ids in a channel, newest first.
func (s *Store) MessagesInChannel(ctx context.Context, userID, channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT m.id, m.activity_watcher, m.message
		 FROM activity_message m
		 JOIN activity_watcher w ON w.id = m.activity_watcher
		 WHERE w.user_id = ? AND w.channel_id = ?
		 ORDER BY m.id DESC LIMIT ?`,
		userID, channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing channel messages: %w", err)
	}
	return toMessages(rows), nil
}

// ActivitiesWithMessages returns distinct activity names of watchers
// matching f that own at least one message.
func (s *Store) ActivitiesWithMessages(ctx context.Context, f WatcherFilter, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 25
	}
	where, args := f.where()
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT DISTINCT activity_name FROM activity_watcher
		 WHERE `+where+` AND EXISTS (SELECT 1 FROM activity_message m WHERE m.activity_watcher = activity_watcher.id)
		 ORDER BY activity_name LIMIT ?`,
		append(args, limit)...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing activities with messages: %w", err)
	}
	return names, nil
}

// RemoveTrigger deletes one message if it belongs to a watcher of userID in
// channelID. A watcher left without messages is deleted too.
func (s *Store) RemoveTrigger(ctx context.Context, messageID int64, userID, channelID string) (bool, error) {
	removed := false
	err := s.withTx(ctx, "remove trigger", func(tx *sqlx.Tx) error {
		var watcherID int64
		err := tx.GetContext(ctx, &watcherID,
			`DELETE FROM activity_message
			 WHERE id = ? AND activity_watcher IN (
				SELECT id FROM activity_watcher WHERE user_id = ? AND channel_id = ?
			 )
			 RETURNING activity_watcher`,
			messageID, userID, channelID,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("deleting message: %w", err)
		}
		removed = true
		_, err = tx.ExecContext(ctx,
			`DELETE FROM activity_watcher
			 WHERE id = ? AND NOT EXISTS (SELECT 1 FROM activity_message WHERE activity_watcher = ?)`,
			watcherID, watcherID,
		)
		if err != nil {
			return fmt.Errorf("deleting empty watcher: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// RemoveAllTriggers deletes every watcher matching f together with its
// messages, in one transaction, and returns the deleted messages.
func (s *Store) RemoveAllTriggers(ctx context.Context, f WatcherFilter) ([]Message, error) {
	var removed []Message
	err := s.withTx(ctx, "remove all triggers", func(tx *sqlx.Tx) error {
		where, args := f.where()
		var ids []int64
		if err := tx.SelectContext(ctx, &ids, `SELECT id FROM activity_watcher WHERE `+where+` ORDER BY id`, args...); err != nil {
			return fmt.Errorf("selecting watchers: %w", err)
		}
		for _, id := range ids {
			var rows []messageRow
			if err := tx.SelectContext(ctx, &rows,
				`DELETE FROM activity_message WHERE activity_watcher = ? RETURNING `+messageCols, id,
			); err != nil {
				return fmt.Errorf("deleting messages of watcher %d: %w", id, err)
			}
			removed = append(removed, toMessages(rows)...)
			if _, err := tx.ExecContext(ctx, `DELETE FROM activity_watcher WHERE id = ?`, id); err != nil {
				return fmt.Errorf("deleting watcher %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
