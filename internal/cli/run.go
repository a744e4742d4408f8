package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"joinme/internal/app"
)

const stopTimeout = 15 * time.Second

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start dispatching triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")

			a, err := app.NewApp(path)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(context.Background()); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigs:
				reason = app.ReasonFromSignal(sig)
			case <-a.Done():
				reason = app.StopFatalError
			}

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := a.Stop(ctx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
}
