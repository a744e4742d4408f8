package storage

import (
	"context"
	"fmt"
	"time"
)

// RecordActivity notes that userID was seen doing activityName at at.
func (s *Store) RecordActivity(ctx context.Context, userID, activityName string, at time.Time) error {
	ms := toMillis(at)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recorded_activity (user_id, activity_name, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, activity_name)
		 DO UPDATE SET last_seen_at = MAX(last_seen_at, excluded.last_seen_at)`,
		userID, activityName, ms, ms,
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// RecentActivities returns the user's recorded activities, most recently seen first.
func (s *Store) RecentActivities(ctx context.Context, userID string, limit int) ([]RecordedActivity, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []struct {
		UserID       string `db:"user_id"`
		ActivityName string `db:"activity_name"`
		FirstSeen    int64  `db:"first_seen_at"`
		LastSeen     int64  `db:"last_seen_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT user_id, activity_name, first_seen_at, last_seen_at
		 FROM recorded_activity WHERE user_id = ?
		 ORDER BY last_seen_at DESC, activity_name LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recorded activities: %w", err)
	}
	out := make([]RecordedActivity, 0, len(rows))
	for _, r := range rows {
		out = append(out, RecordedActivity{
			UserID:       r.UserID,
			ActivityName: r.ActivityName,
			FirstSeen:    time.UnixMilli(r.FirstSeen),
			LastSeen:     time.UnixMilli(r.LastSeen),
		})
	}
	return out, nil
}

// PruneRecordedActivities deletes activities not seen since before.
func (s *Store) PruneRecordedActivities(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recorded_activity WHERE last_seen_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("pruning recorded activities: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
