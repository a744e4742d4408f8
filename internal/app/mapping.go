package app

import (
	"joinme/internal/config"
	"joinme/internal/diag"
	"joinme/internal/maintenance"
	"joinme/internal/notifier"
	"joinme/internal/storage"
	"joinme/internal/transport/discord"
	logx "joinme/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    cfg.Logging.Channel.Enabled,
			ChannelID:  cfg.Logging.Channel.ChannelID,
			MinLevel:   cfg.Logging.Channel.MinLevel,
			RatePerSec: cfg.Logging.Channel.RatePerSec,
		},
	}
}

func mapDiscordConfig(cfg *config.Config) discord.Config {
	return discord.Config{
		Token:          cfg.Discord.Token,
		ApplicationID:  cfg.Discord.ApplicationID,
		CommandGuildID: cfg.Discord.CommandGuildID,
	}
}

func mapStorageConfig(r config.Resolved) storage.Config {
	return storage.Config{Path: r.StoragePath, BusyTimeout: r.BusyTimeout}
}

func mapNotifierConfig(r config.Resolved) notifier.Config {
	return notifier.Config{
		Enabled:     r.NotifierEnabled,
		RatePerSec:  r.RatePerSec,
		SendTimeout: r.SendTimeout,
		HistorySize: r.HistorySize,
	}
}

func mapMaintenanceConfig(cfg *config.Config, r config.Resolved) maintenance.Config {
	return maintenance.Config{
		Enabled:              cfg.Maintenance.Enabled,
		Location:             r.Location,
		PruneSchedule:        r.PruneSchedule,
		ActivityRetention:    r.ActivityRetention,
		SilenceSweepSchedule: r.SilenceSweepSchedule,
	}
}

func mapDiagConfig(cfg *config.Config, r config.Resolved) diag.Config {
	return diag.Config{
		Enabled: cfg.Diagnostics.Enabled,
		Addr:    r.DiagnosticsAddr,
		Token:   cfg.Diagnostics.Token,
	}
}
