// Package trigger turns activity-start events into channel messages.
//
// For every watcher registered on (guild, user, activity) the Ingestor runs
//
//	Resolver -> Eligibility -> Selector -> Dispatcher -> Recorder -> Silence
//
// Watchers move through Idle, Eligible, Dispatched and AutoSilenced; a
// manual silence overrides all of them until it expires or is cleared.
// State lives in storage; the values in this package are snapshots.
package trigger
