package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ResolveWatchers returns every watcher registered for the activity by the
// user in the guild, across all channels. No match is not an error.
func (s *Store) ResolveWatchers(ctx context.Context, guildID, userID, activityName string) ([]Watcher, error) {
	var rows []watcherRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+watcherCols+` FROM activity_watcher
		 WHERE guild_id = ? AND user_id = ? AND activity_name = ?
		 ORDER BY id`,
		guildID, userID, activityName,
	)
	if err != nil {
		return nil, fmt.Errorf("resolving watchers: %w", err)
	}
	return toWatchers(rows), nil
}

// GetWatcher loads one watcher by id.
func (s *Store) GetWatcher(ctx context.Context, id int64) (Watcher, bool, error) {
	var row watcherRow
	err := s.db.GetContext(ctx, &row, `SELECT `+watcherCols+` FROM activity_watcher WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Watcher{}, false, nil
	}
	if err != nil {
		return Watcher{}, false, fmt.Errorf("getting watcher %d: %w", id, err)
	}
	return row.toWatcher(), true, nil
}

// GetOrCreateWatcher returns the watcher for key, creating it if needed.
func (s *Store) GetOrCreateWatcher(ctx context.Context, key WatcherKey, now time.Time) (Watcher, error) {
	var w Watcher
	err := s.withTx(ctx, "get or create watcher", func(tx *sqlx.Tx) error {
		var err error
		w, err = getOrCreateWatcher(ctx, tx, key, now)
		return err
	})
	return w, err
}

func getOrCreateWatcher(ctx context.Context, q sqlx.ExtContext, key WatcherKey, now time.Time) (Watcher, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO activity_watcher (guild_id, user_id, activity_name, channel_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (guild_id, user_id, activity_name, channel_id) DO NOTHING`,
		key.GuildID, key.UserID, key.ActivityName, key.ChannelID, toMillis(now),
	)
	if err != nil {
		return Watcher{}, fmt.Errorf("inserting watcher: %w", err)
	}
	var row watcherRow
	err = sqlx.GetContext(ctx, q, &row,
		`SELECT `+watcherCols+` FROM activity_watcher
		 WHERE guild_id = ? AND user_id = ? AND activity_name = ? AND channel_id = ?`,
		key.GuildID, key.UserID, key.ActivityName, key.ChannelID,
	)
	if err != nil {
		return Watcher{}, fmt.Errorf("loading watcher: %w", err)
	}
	return row.toWatcher(), nil
}

// FindWatchers returns the watchers matching f, ordered by activity name.
func (s *Store) FindWatchers(ctx context.Context, f WatcherFilter) ([]Watcher, error) {
	where, args := f.where()
	var rows []watcherRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+watcherCols+` FROM activity_watcher WHERE `+where+` ORDER BY activity_name, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("finding watchers: %w", err)
	}
	return toWatchers(rows), nil
}

func (f WatcherFilter) where() (string, []any) {
	conds := []string{"guild_id = ?", "user_id = ?", "channel_id = ?"}
	args := []any{f.GuildID, f.UserID, f.ChannelID}
	if name := strings.TrimSpace(f.ActivityName); name != "" {
		conds = append(conds, "activity_name = ?")
		args = append(args, name)
	}
	if f.Silenced != nil {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		cond := "(silenced_indefinitely = 1 OR COALESCE(silenced_until, 0) > ?)"
		if !*f.Silenced {
			cond = "NOT " + cond
		}
		conds = append(conds, cond)
		args = append(args, toMillis(now))
	}
	return strings.Join(conds, " AND "), args
}

// MarkTriggered records that the watcher fired for an activity that started
// at eventStart. The write is conditional: it only applies while
// last_triggered is still NULL or older than eventStart, so of several
// callers racing on the same event exactly one sees ok=true.
func (s *Store) MarkTriggered(ctx context.Context, id int64, eventStart, at time.Time) (Watcher, bool, error) {
	var row watcherRow
	err := s.db.GetContext(ctx, &row,
		`UPDATE activity_watcher SET last_triggered = ?
		 WHERE id = ? AND (last_triggered IS NULL OR last_triggered < ?)
		 RETURNING `+watcherCols,
		toMillis(at), id, toMillis(eventStart),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Watcher{}, false, nil
	}
	if err != nil {
		return Watcher{}, false, fmt.Errorf("marking watcher %d triggered: %w", id, err)
	}
	return row.toWatcher(), true, nil
}

// ExtendSilence sets silenced_until to until unless the watcher is
// indefinitely silenced or already silenced past until. ok is false when
// nothing changed.
func (s *Store) ExtendSilence(ctx context.Context, id int64, until time.Time) (Watcher, bool, error) {
	var row watcherRow
	err := s.db.GetContext(ctx, &row,
		`UPDATE activity_watcher SET silenced_until = ?
		 WHERE id = ? AND silenced_indefinitely = 0
		   AND (silenced_until IS NULL OR silenced_until < ?)
		 RETURNING `+watcherCols,
		toMillis(until), id, toMillis(until),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Watcher{}, false, nil
	}
	if err != nil {
		return Watcher{}, false, fmt.Errorf("extending silence on watcher %d: %w", id, err)
	}
	return row.toWatcher(), true, nil
}

// SilenceWatchers overwrites the silence state of every watcher matching f
// and returns the updated snapshots.
func (s *Store) SilenceWatchers(ctx context.Context, f WatcherFilter, until *time.Time, indefinite bool) ([]Watcher, error) {
	where, args := f.where()
	var rows []watcherRow
	err := s.db.SelectContext(ctx, &rows,
		`UPDATE activity_watcher SET silenced_until = ?, silenced_indefinitely = ?
		 WHERE `+where+` RETURNING `+watcherCols,
		append([]any{silenceArg(until, indefinite), indefinite}, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("silencing watchers: %w", err)
	}
	return toWatchers(rows), nil
}

// UnsilenceWatchers clears the silence state of every watcher matching f.
func (s *Store) UnsilenceWatchers(ctx context.Context, f WatcherFilter) ([]Watcher, error) {
	return s.SilenceWatchers(ctx, f, nil, false)
}

// ClearExpiredSilences nulls silenced_until values already in the past.
// Eligibility ignores them anyway; this only keeps listings tidy.
func (s *Store) ClearExpiredSilences(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activity_watcher SET silenced_until = NULL
		 WHERE silenced_until IS NOT NULL AND silenced_until <= ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("clearing expired silences: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func silenceArg(until *time.Time, indefinite bool) any {
	if indefinite || until == nil {
		return nil
	}
	return toMillis(*until)
}
