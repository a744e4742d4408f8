package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// Missing values resolve to defaults in Resolve.
type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Triggers    TriggersConfig    `json:"triggers"`
	Notifier    NotifierConfig    `json:"notifier"`
	Ingest      IngestConfig      `json:"ingest"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Systemd     SystemdConfig     `json:"systemd"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

type DiscordConfig struct {
	Token         string `json:"token"`
	ApplicationID string `json:"application_id,omitempty"`

	// RegisterCommands overwrites the slash command list on startup.
	RegisterCommands bool `json:"register_commands"`
	// CommandGuildID registers commands for one guild only (instant
	// propagation, useful while developing). Empty means global.
	CommandGuildID string `json:"command_guild_id,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
	Channel LoggingChannel    `json:"channel"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChannel mirrors warnings into a Discord channel.
type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TriggersConfig struct {
	// DebounceWindow is the automatic silence applied after each dispatch.
	DebounceWindow string `json:"debounce_window,omitempty"`
}

// NotifierConfig controls outbound trigger messages.
//
// Enabled is a pointer so an omitted value defaults to true.
type NotifierConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

type IngestConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	PruneSchedule        string `json:"prune_schedule,omitempty"`
	ActivityRetention    string `json:"activity_retention,omitempty"`
	SilenceSweepSchedule string `json:"silence_sweep_schedule,omitempty"`
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// DiagnosticsConfig controls the local HTTP server exposing health, stats
// and pprof. A non-loopback Addr requires Token.
type DiagnosticsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}
