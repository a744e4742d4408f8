package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "JOINME"

// envString lists string keys that may be overridden from the environment,
// e.g. JOINME_DISCORD_TOKEN for discord.token.
var envString = map[string]func(c *Config) *string{
	"discord.token":            func(c *Config) *string { return &c.Discord.Token },
	"discord.application_id":   func(c *Config) *string { return &c.Discord.ApplicationID },
	"discord.command_guild_id": func(c *Config) *string { return &c.Discord.CommandGuildID },
	"logging.level":            func(c *Config) *string { return &c.Logging.Level },
	"logging.channel.channel_id": func(c *Config) *string {
		return &c.Logging.Channel.ChannelID
	},
	"storage.path":              func(c *Config) *string { return &c.Storage.Path },
	"triggers.debounce_window":  func(c *Config) *string { return &c.Triggers.DebounceWindow },
	"notifier.send_timeout":     func(c *Config) *string { return &c.Notifier.SendTimeout },
	"maintenance.timezone":      func(c *Config) *string { return &c.Maintenance.Timezone },
}

var envInt = map[string]func(c *Config) *int{
	"ingest.workers":        func(c *Config) *int { return &c.Ingest.Workers },
	"ingest.queue_size":     func(c *Config) *int { return &c.Ingest.QueueSize },
	"notifier.rate_per_sec": func(c *Config) *int { return &c.Notifier.RatePerSec },
}

var envBool = map[string]func(c *Config) *bool{
	"discord.register_commands": func(c *Config) *bool { return &c.Discord.RegisterCommands },
	"maintenance.enabled":       func(c *Config) *bool { return &c.Maintenance.Enabled },
	"systemd.notify":            func(c *Config) *bool { return &c.Systemd.Notify },
}

// ApplyEnv overlays JOINME_* environment variables onto cfg. Secrets such as
// the bot token are usually supplied this way instead of in the file.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, field := range envString {
		if s := v.GetString(key); s != "" {
			*field(cfg) = s
		}
	}
	for key, field := range envInt {
		if v.GetString(key) == "" {
			continue
		}
		n, err := castInt(v, key)
		if err != nil {
			return err
		}
		*field(cfg) = n
	}
	for key, field := range envBool {
		if v.GetString(key) != "" {
			*field(cfg) = v.GetBool(key)
		}
	}
	return nil
}

func castInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s_%s: invalid integer %q", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), raw)
	}
	return n, nil
}
