package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultDebounceWindow       = 5 * time.Minute
	DefaultSendTimeout          = 10 * time.Second
	DefaultBusyTimeout          = 5 * time.Second
	DefaultActivityRetention    = 90 * 24 * time.Hour
	DefaultPruneSchedule        = "0 4 * * *"
	DefaultSilenceSweepSchedule = "@every 1h"
	DefaultStoragePath          = "./data/joinme.db"
	DefaultDiagnosticsAddr      = "127.0.0.1:6060"
)

// Resolved holds parsed, defaulted values derived from Config.
type Resolved struct {
	DebounceWindow time.Duration

	NotifierEnabled bool
	RatePerSec      int
	SendTimeout     time.Duration
	HistorySize     int

	StoragePath string
	BusyTimeout time.Duration

	Workers   int
	QueueSize int

	Location             *time.Location
	PruneSchedule        string
	ActivityRetention    time.Duration
	SilenceSweepSchedule string

	DiagnosticsAddr string
}

// CronParser accepts standard five-field specs, an optional seconds field
// and descriptors such as "@every 1h".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Resolve validates cfg and fills defaults.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var r Resolved
	var err error

	if r.DebounceWindow, err = ParseDurationOrDefault("triggers.debounce_window", cfg.Triggers.DebounceWindow, DefaultDebounceWindow); err != nil {
		return r, err
	}

	r.NotifierEnabled = cfg.Notifier.Enabled == nil || *cfg.Notifier.Enabled
	r.RatePerSec = cfg.Notifier.RatePerSec
	if r.RatePerSec <= 0 {
		r.RatePerSec = 5
	}
	if r.SendTimeout, err = ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, DefaultSendTimeout); err != nil {
		return r, err
	}
	r.HistorySize = cfg.Notifier.HistorySize
	if r.HistorySize <= 0 {
		r.HistorySize = 200
	}

	r.StoragePath = strings.TrimSpace(cfg.Storage.Path)
	if r.StoragePath == "" {
		r.StoragePath = DefaultStoragePath
	}
	if r.BusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout); err != nil {
		return r, err
	}

	r.Workers = cfg.Ingest.Workers
	if r.Workers <= 0 {
		r.Workers = 4
	}
	r.QueueSize = cfg.Ingest.QueueSize
	if r.QueueSize <= 0 {
		r.QueueSize = 256
	}

	r.Location = time.Local
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if r.Location, err = time.LoadLocation(tz); err != nil {
			return r, fmt.Errorf("maintenance.timezone: %w", err)
		}
	}
	r.PruneSchedule = orDefault(cfg.Maintenance.PruneSchedule, DefaultPruneSchedule)
	if _, err := CronParser.Parse(r.PruneSchedule); err != nil {
		return r, fmt.Errorf("maintenance.prune_schedule: %w", err)
	}
	r.SilenceSweepSchedule = orDefault(cfg.Maintenance.SilenceSweepSchedule, DefaultSilenceSweepSchedule)
	if _, err := CronParser.Parse(r.SilenceSweepSchedule); err != nil {
		return r, fmt.Errorf("maintenance.silence_sweep_schedule: %w", err)
	}
	if r.ActivityRetention, err = ParseDurationOrDefault("maintenance.activity_retention", cfg.Maintenance.ActivityRetention, DefaultActivityRetention); err != nil {
		return r, err
	}

	r.DiagnosticsAddr = orDefault(cfg.Diagnostics.Addr, DefaultDiagnosticsAddr)
	if _, _, err := net.SplitHostPort(r.DiagnosticsAddr); err != nil {
		return r, fmt.Errorf("diagnostics.addr: %w", err)
	}
	if cfg.Diagnostics.Enabled && strings.TrimSpace(cfg.Diagnostics.Token) == "" && !IsLoopbackAddr(r.DiagnosticsAddr) {
		return r, fmt.Errorf("diagnostics.token is required to listen on non-loopback %q", r.DiagnosticsAddr)
	}
	return r, nil
}

// Validate checks the fields a running bot cannot do without.
func Validate(cfg *Config) error {
	if _, err := Resolve(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return errors.New("discord.token is required")
	}
	if cfg.Logging.Channel.Enabled && strings.TrimSpace(cfg.Logging.Channel.ChannelID) == "" {
		return errors.New("logging.channel.channel_id is required when channel logging is enabled")
	}
	return nil
}

// IsLoopbackAddr reports whether a host:port binds to loopback only. An
// empty host means every interface.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
