// Package notifier delivers trigger messages into chat channels.
//
// Sends are synchronous so the caller learns about failures, but they are
// throttled by a token bucket shared across the process and bounded by a
// per-send timeout. Role mentions are allowed in trigger messages since
// pinging a group is the point of a "join me" message.
//
// # History
//
// For operator visibility the service keeps a bounded in-memory history of
// recent sends, successful or not.
package notifier
