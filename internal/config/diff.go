package config

import (
	"reflect"
	"sort"
	"strings"

	logx "joinme/pkg/logx"
)

// SummarizeChange returns the changed top-level sections, safe log fields
// describing them (tokens are never included) and whether any changed
// section needs a restart to take effect.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	restart := false

	if oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.ApplicationID != newCfg.Discord.ApplicationID ||
		oldCfg.Discord.RegisterCommands != newCfg.Discord.RegisterCommands ||
		oldCfg.Discord.CommandGuildID != newCfg.Discord.CommandGuildID {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.Bool("discord.register_commands", newCfg.Discord.RegisterCommands),
		)
		restart = true
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)))
		restart = true
	}

	if oldCfg.Triggers != newCfg.Triggers {
		changed = append(changed, "triggers")
		attrs = append(attrs, logx.String("triggers.debounce_window", newCfg.Triggers.DebounceWindow))
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.send_timeout", newCfg.Notifier.SendTimeout),
		)
	}

	if oldCfg.Ingest != newCfg.Ingest {
		changed = append(changed, "ingest")
		attrs = append(attrs,
			logx.Int("ingest.workers", newCfg.Ingest.Workers),
			logx.Int("ingest.queue_size", newCfg.Ingest.QueueSize),
		)
		restart = true
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.prune_schedule", newCfg.Maintenance.PruneSchedule),
			logx.String("maintenance.silence_sweep_schedule", newCfg.Maintenance.SilenceSweepSchedule),
		)
	}

	if oldCfg.Diagnostics != newCfg.Diagnostics {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newCfg.Diagnostics.Enabled),
			logx.String("diagnostics.addr", newCfg.Diagnostics.Addr),
			logx.Bool("diagnostics.token_set", newCfg.Diagnostics.Token != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		restart = true
	}

	sort.Strings(changed)
	return changed, attrs, restart
}
