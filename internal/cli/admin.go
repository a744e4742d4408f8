package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			v, err := c.Store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts for watchers, messages and activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			st, err := c.Store.Stats(ctx, time.Now())
			if err != nil {
				return err
			}
			if c.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watchers:   %d\n", st.Watchers)
			fmt.Fprintf(out, "messages:   %d\n", st.Messages)
			fmt.Fprintf(out, "activities: %d\n", st.Activities)
			fmt.Fprintf(out, "silenced:   %d\n", st.Silenced)
			return nil
		},
	}
}

// NewActivitiesCmd creates the activities command.
func NewActivitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activities <user-id>",
		Short: "List activities recently seen for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return fmt.Errorf("invalid --limit value: %d", limit)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			acts, err := c.Store.RecentActivities(ctx, strings.TrimSpace(args[0]), limit)
			if err != nil {
				return err
			}
			if c.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(acts)
			}
			out := cmd.OutOrStdout()
			if len(acts) == 0 {
				fmt.Fprintln(out, "no recorded activities")
				return nil
			}
			for _, a := range acts {
				fmt.Fprintf(out, "%s\tlast seen %s\n", a.ActivityName, a.LastSeen.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 25, "maximum activities to show")
	return cmd
}
