package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"joinme/internal/config"
	"joinme/internal/storage"
	"joinme/internal/trigger"
)

// NewTriggersCmd creates the triggers command group. Every subcommand acts
// in one (guild, user, channel) scope, like the slash commands do.
func NewTriggersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Inspect and edit a user's activity triggers",
	}
	cmd.PersistentFlags().String("guild", "", "guild id")
	cmd.PersistentFlags().String("user", "", "user id")
	cmd.PersistentFlags().String("channel", "", "channel id")
	_ = cmd.MarkPersistentFlagRequired("guild")
	_ = cmd.MarkPersistentFlagRequired("user")
	_ = cmd.MarkPersistentFlagRequired("channel")

	cmd.AddCommand(
		newTriggersListCmd(),
		newTriggersAddCmd(),
		newTriggersRemoveCmd(),
		newTriggersRemoveAllCmd(),
		newTriggersSilenceCmd(),
		newTriggersUnsilenceCmd(),
	)
	return cmd
}

func scopeFromFlags(cmd *cobra.Command) trigger.Scope {
	guild, _ := cmd.Flags().GetString("guild")
	user, _ := cmd.Flags().GetString("user")
	channel, _ := cmd.Flags().GetString("channel")
	return trigger.Scope{
		GuildID:   strings.TrimSpace(guild),
		UserID:    strings.TrimSpace(user),
		ChannelID: strings.TrimSpace(channel),
	}
}

func newTriggersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triggers and their messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			activity, _ := cmd.Flags().GetString("activity")
			ctx, cancel := commandContext(cmd)
			defer cancel()
			trs, err := c.Triggers.ListTriggers(ctx, scopeFromFlags(cmd), activity)
			if err != nil {
				return err
			}
			if c.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(trs)
			}
			printTriggers(cmd.OutOrStdout(), trs, time.Now())
			return nil
		},
	}
	cmd.Flags().String("activity", "", "only this activity")
	return cmd
}

func printTriggers(out io.Writer, trs []storage.Trigger, now time.Time) {
	if len(trs) == 0 {
		fmt.Fprintln(out, "no triggers")
		return
	}
	for _, tr := range trs {
		fmt.Fprintf(out, "%s (%s)\n", tr.Watcher.ActivityName, silenceState(tr.Watcher, now))
		for _, m := range tr.Messages {
			fmt.Fprintf(out, "  #%d\t%s\n", m.ID, oneLine(m.Text))
		}
	}
}

func silenceState(w storage.Watcher, now time.Time) string {
	switch {
	case w.SilencedIndefinitely:
		return "silenced until unsilenced"
	case w.SilencedAt(now):
		return "silenced until " + w.SilencedUntil.Format(time.RFC3339)
	default:
		return "active"
	}
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ⏎ ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:79]) + "…"
	}
	return s
}

func newTriggersAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <activity> <message...>",
		Short: "Add a message to send when the activity starts",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			m, err := c.Triggers.AddTrigger(ctx, scopeFromFlags(cmd), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added message #%d\n", m.ID)
			return nil
		},
	}
}

func newTriggersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <message-id>",
		Short: "Remove one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(args[0]), "#"), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q", args[0])
			}
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			sc := scopeFromFlags(cmd)
			ctx, cancel := commandContext(cmd)
			defer cancel()
			ok, err := c.Triggers.RemoveTrigger(ctx, id, sc.UserID, sc.ChannelID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("message #%d not found in this channel", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed message #%d\n", id)
			return nil
		},
	}
}

func newTriggersRemoveAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-all",
		Short: "Remove every message, or every message of one activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			activity, _ := cmd.Flags().GetString("activity")
			ctx, cancel := commandContext(cmd)
			defer cancel()
			removed, err := c.Triggers.RemoveAllTriggers(ctx, scopeFromFlags(cmd), activity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d messages\n", len(removed))
			return nil
		},
	}
	cmd.Flags().String("activity", "", "only this activity")
	return cmd
}

// parseSilenceFor accepts any Go duration plus whole days or weeks
// ("2d", "1w"). Empty means indefinitely.
func parseSilenceFor(v string, now time.Time) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	d, err := config.ParseDurationField("--for", v)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, fmt.Errorf("--for must be positive, got %s", v)
	}
	until := now.Add(d)
	return &until, nil
}

func newTriggersSilenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "silence",
		Short: "Silence triggers for a while, or until unsilenced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			forFlag, _ := cmd.Flags().GetString("for")
			until, err := parseSilenceFor(forFlag, time.Now())
			if err != nil {
				return err
			}
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			activity, _ := cmd.Flags().GetString("activity")
			ctx, cancel := commandContext(cmd)
			defer cancel()
			ws, err := c.Triggers.SilenceTriggers(ctx, scopeFromFlags(cmd), activity, until)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ws) == 0 {
				fmt.Fprintln(out, "nothing to silence")
				return nil
			}
			now := time.Now()
			for _, w := range ws {
				fmt.Fprintf(out, "%s: %s\n", w.ActivityName, silenceState(w, now))
			}
			return nil
		},
	}
	cmd.Flags().String("activity", "", "only this activity")
	cmd.Flags().String("for", "", "1h, 3h, 1d, 1w or a Go duration (default: until unsilenced)")
	return cmd
}

func newTriggersUnsilenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsilence",
		Short: "Clear silences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			activity, _ := cmd.Flags().GetString("activity")
			ctx, cancel := commandContext(cmd)
			defer cancel()
			ws, err := c.Triggers.UnsilenceTriggers(ctx, scopeFromFlags(cmd), activity)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ws) == 0 {
				fmt.Fprintln(out, "nothing to unsilence")
				return nil
			}
			for _, w := range ws {
				fmt.Fprintf(out, "%s: active\n", w.ActivityName)
			}
			return nil
		},
	}
	cmd.Flags().String("activity", "", "only this activity")
	return cmd
}
