// Package logx configures joinme's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable with a short timestamp and caller, keeps file output as JSON, and
// can mirror warnings into a chat channel (min-level + rate limiting).
package logx
