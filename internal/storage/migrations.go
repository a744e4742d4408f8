package storage

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered with sequential versions starting at 1.
//
// activity_message references activity_watcher without ON DELETE CASCADE:
// callers delete messages before their watcher in the same transaction, and
// foreign_keys=ON rejects anything that would leave an orphan.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS activity_watcher (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id              TEXT NOT NULL,
	user_id               TEXT NOT NULL,
	activity_name         TEXT NOT NULL,
	channel_id            TEXT NOT NULL,
	last_triggered        INTEGER,
	silenced_until        INTEGER,
	silenced_indefinitely INTEGER NOT NULL DEFAULT 0,
	created_at            INTEGER NOT NULL,
	UNIQUE (guild_id, user_id, activity_name, channel_id)
);

CREATE INDEX IF NOT EXISTS idx_watcher_user_channel
	ON activity_watcher(user_id, channel_id);

CREATE TABLE IF NOT EXISTS activity_message (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	activity_watcher INTEGER NOT NULL REFERENCES activity_watcher(id),
	message          TEXT NOT NULL,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_watcher
	ON activity_message(activity_watcher);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS recorded_activity (
	user_id       TEXT NOT NULL,
	activity_name TEXT NOT NULL,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, activity_name)
);

CREATE INDEX IF NOT EXISTS idx_recorded_activity_last_seen
	ON recorded_activity(last_seen_at);
`,
	},
}
