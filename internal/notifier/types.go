package notifier

import "time"

type Config struct {
	Enabled     bool
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

// HistoryItem is one recorded send attempt.
type HistoryItem struct {
	At        time.Time
	ChannelID string
	MessageID string
	Text      string
	Err       string
}

// SendEvent is published on the bus after every attempt.
type SendEvent struct {
	ChannelID string
	MessageID string
	Duration  time.Duration
	Error     string
}
