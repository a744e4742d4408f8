// Package storage persists watchers, their candidate messages and the
// per-user activity log in SQLite.
//
// Every multi-row mutation runs in a single transaction. The trigger
// bookkeeping write (MarkTriggered) is one conditional UPDATE so concurrent
// callers racing on the same watcher observe exactly one winner.
package storage
