// Package cli is the joinme command line: running the bot and
// administering stored triggers without going through Discord.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"joinme/internal/config"
	"joinme/internal/storage"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

const AppName = "joinme"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "joinme - tell your friends when you start playing",
		Long:          "joinme watches Discord presences and posts your messages when an activity you registered starts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "./config.json", "path to config file (json or yaml)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewRunCmd(),
		NewMigrateCmd(),
		NewStatsCmd(),
		NewActivitiesCmd(),
		NewTriggersCmd(),
	)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}

// cmdContext holds what admin commands need: the opened store and a
// trigger service over it.
type cmdContext struct {
	Store    *storage.Store
	Triggers *trigger.Service
	JSON     bool
}

func (c *cmdContext) Close() error { return c.Store.Close() }

// openContext loads the config and opens the store. The Discord token is
// not required here, so admin commands work on a bare database.
func openContext(cmd *cobra.Command) (*cmdContext, error) {
	path, _ := cmd.Flags().GetString("config")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfgm := config.NewConfigManager(path)
	cfgm.SetOverlay(config.ApplyEnv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logx.NewWriter(cmd.ErrOrStderr(), "warn")
	st, err := storage.Open(storage.Config{Path: res.StoragePath, BusyTimeout: res.BusyTimeout}, log)
	if err != nil {
		return nil, err
	}
	return &cmdContext{Store: st, Triggers: trigger.NewService(st, trigger.NewSilenceController(st, nil, res.DebounceWindow), nil, log), JSON: asJSON}, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, 30*time.Second)
}
