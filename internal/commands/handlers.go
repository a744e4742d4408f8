package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"joinme/internal/storage"
	"joinme/internal/transport"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

const (
	CmdAdd        = "addactivitymessage"
	CmdList       = "listactivitymessages"
	CmdPreview    = "previewactivitymessage"
	CmdRemove     = "removeactivitymessage"
	CmdRemoveAll  = "removeactivitymessages"
	CmdSilence    = "silence"
	CmdUnsilence  = "unsilence"
	optActivity   = "activity"
	optMessageID  = "message_id"
	optSilenceFor = "for"
)

// maxEmbeds is the platform's per-message embed limit.
const maxEmbeds = 10

type silenceOption struct {
	Name  string
	Value string
	For   time.Duration
}

var silenceOptions = []silenceOption{
	{"1 hour", "1h", time.Hour},
	{"3 hours", "3h", 3 * time.Hour},
	{"1 day", "1d", 24 * time.Hour},
	{"1 week", "1w", 7 * 24 * time.Hour},
}

// SilenceDuration maps a silence choice value ("1h", "3h", "1d", "1w") to its length.
func SilenceDuration(v string) (time.Duration, bool) {
	for _, o := range silenceOptions {
		if o.Value == v {
			return o.For, true
		}
	}
	return 0, false
}

func (r *Router) table() []Command {
	activityDesc := "The exact name of the activity (what shows up in your status)"
	silenced, active := true, false

	silenceChoices := make([]transport.Choice, 0, len(silenceOptions))
	for _, o := range silenceOptions {
		silenceChoices = append(silenceChoices, transport.Choice{Name: o.Name, Value: o.Value})
	}

	return []Command{
		{
			Spec: transport.CommandSpec{
				Name:        CmdAdd,
				Description: "Adds a message sent whenever you start an activity (uses your most recent message).",
				Options: []transport.OptionSpec{
					{Name: optActivity, Description: activityDesc, Kind: transport.OptionString, Required: true, Autocomplete: true},
				},
			},
			Handle:       r.addMessage,
			Autocomplete: map[string]AutocompleteFunc{optActivity: r.recordedActivities},
		},
		{
			Spec: transport.CommandSpec{
				Name:        CmdList,
				Description: "Lists your activity messages for this channel.",
				Options: []transport.OptionSpec{
					{Name: optActivity, Description: activityDesc, Kind: transport.OptionString, Autocomplete: true},
				},
			},
			Handle:       r.listMessages,
			Autocomplete: map[string]AutocompleteFunc{optActivity: r.activitiesWithMessages(nil)},
		},
		{
			Spec: transport.CommandSpec{
				Name:        CmdPreview,
				Description: "Previews a message by id. Must be in the channel the message triggers in.",
				Options: []transport.OptionSpec{
					{Name: optMessageID, Description: "The id of the message to preview", Kind: transport.OptionString, Required: true, Autocomplete: true},
				},
			},
			Handle:       r.previewMessage,
			Autocomplete: map[string]AutocompleteFunc{optMessageID: r.channelMessageIDs},
		},
		{
			Spec: transport.CommandSpec{
				Name:        CmdRemove,
				Description: "Removes a message by id. Must be in the channel the message triggers in.",
				Options: []transport.OptionSpec{
					{Name: optMessageID, Description: "The id of the message to remove", Kind: transport.OptionString, Required: true, Autocomplete: true},
				},
			},
			Handle:       r.removeMessage,
			Autocomplete: map[string]AutocompleteFunc{optMessageID: r.channelMessageIDs},
		},
		{
			Spec: transport.CommandSpec{
				Name:        CmdRemoveAll,
				Description: "Removes all of your messages from this channel, or only those of one activity.",
				Options: []transport.OptionSpec{
					{Name: optActivity, Description: "The exact name of the activity (removes every message if not specified)", Kind: transport.OptionString, Autocomplete: true},
				},
			},
			Handle:       r.removeMessages,
			Autocomplete: map[string]AutocompleteFunc{optActivity: r.activitiesWithMessages(nil)},
		},
		{
			Spec: transport.CommandSpec{
				Name:        CmdSilence,
				Description: "Silences your activity messages in this channel.",
				Options: []transport.OptionSpec{
					{Name: optActivity, Description: "The activity to silence (all if not specified)", Kind: transport.OptionString, Autocomplete: true},
					{Name: optSilenceFor, Description: "How long to stay silent (until unsilenced if not specified)", Kind: transport.OptionString, Choices: silenceChoices},
				},
			},
			Handle:       r.silence,
			Autocomplete: map[string]AutocompleteFunc{optActivity: r.activitiesWithMessages(&active)},
		},
		{
			Spec: transport.CommandSpec{
				Name:        CmdUnsilence,
				Description: "Unsilences your activity messages in this channel.",
				Options: []transport.OptionSpec{
					{Name: optActivity, Description: "The activity to unsilence (all if not specified)", Kind: transport.OptionString, Autocomplete: true},
				},
			},
			Handle:       r.unsilence,
			Autocomplete: map[string]AutocompleteFunc{optActivity: r.activitiesWithMessages(&silenced)},
		},
	}
}

func (r *Router) addMessage(ctx context.Context, req *Request) (transport.Response, error) {
	activity, _ := req.Option(optActivity)
	if r.history == nil {
		return transport.Response{}, errors.New("message history unavailable")
	}
	text, ok, err := r.history.LatestMessage(ctx, req.Scope.ChannelID, req.Scope.UserID)
	if err != nil {
		return transport.Response{}, err
	}
	if !ok {
		return transport.Response{Content: "😕 Unable to find a message in recent history to use.", Ephemeral: true}, nil
	}
	msg, err := r.svc.AddTrigger(ctx, req.Scope, activity, text)
	if err != nil {
		return transport.Response{}, err
	}
	req.Log.Info("message added", logx.String("activity", activity), logx.Int64("message_id", msg.ID))
	return transport.Response{
		Content: "### 📬 Message added!",
		Embeds: []transport.Embed{{
			Title:       fmt.Sprintf("Message Id `%d` for activity `%s`", msg.ID, strings.TrimSpace(activity)),
			Description: msg.Text,
		}},
	}, nil
}

func (r *Router) listMessages(ctx context.Context, req *Request) (transport.Response, error) {
	activity, hasActivity := req.Option(optActivity)
	triggers, err := r.svc.ListTriggers(ctx, req.Scope, activity)
	if err != nil {
		return transport.Response{}, err
	}
	var embeds []transport.Embed
	total := 0
	for _, t := range triggers {
		for _, m := range t.Messages {
			total++
			if len(embeds) < maxEmbeds {
				embeds = append(embeds, transport.Embed{
					Title:       fmt.Sprintf("Message Id `%d` for `%s`", m.ID, t.Watcher.ActivityName),
					Description: m.Text,
				})
			}
		}
	}
	if total == 0 {
		return transport.Response{Content: "🤔 No activity messages, create one with `/" + CmdAdd + "`."}, nil
	}
	content := "### 📬 Listing messages"
	if hasActivity {
		content += fmt.Sprintf(" for `%s`", activity)
	}
	if total > len(embeds) {
		content += fmt.Sprintf(" (showing %d of %d)", len(embeds), total)
	}
	return transport.Response{Content: content, Embeds: embeds}, nil
}

func (r *Router) previewMessage(ctx context.Context, req *Request) (transport.Response, error) {
	id, ok := messageID(req)
	if !ok {
		return transport.Response{Content: "😕 Unable to preview message.", Ephemeral: true}, nil
	}
	m, found, err := r.svc.PreviewMessage(ctx, id, req.Scope.UserID, req.Scope.ChannelID)
	if err != nil {
		return transport.Response{}, err
	}
	if !found {
		return transport.Response{Content: "😕 Unable to preview message.", Ephemeral: true}, nil
	}
	return transport.Response{Content: m.Text, AllowRoleMentions: true}, nil
}

func (r *Router) removeMessage(ctx context.Context, req *Request) (transport.Response, error) {
	id, ok := messageID(req)
	if !ok {
		return transport.Response{Content: "😕 Could not delete message."}, nil
	}
	deleted, err := r.svc.RemoveTrigger(ctx, id, req.Scope.UserID, req.Scope.ChannelID)
	if err != nil {
		return transport.Response{}, err
	}
	if !deleted {
		return transport.Response{Content: "😕 Could not delete message."}, nil
	}
	req.Log.Info("message removed", logx.Int64("message_id", id))
	return transport.Response{Content: "❌ Deleted message!"}, nil
}

func (r *Router) removeMessages(ctx context.Context, req *Request) (transport.Response, error) {
	activity, _ := req.Option(optActivity)
	removed, err := r.svc.RemoveAllTriggers(ctx, req.Scope, activity)
	if err != nil {
		return transport.Response{}, err
	}
	if len(removed) == 0 {
		return transport.Response{Content: "🤔 No messages to remove."}, nil
	}
	req.Log.Info("messages removed", logx.Int("count", len(removed)))
	return transport.Response{Content: fmt.Sprintf("❌ Removed %d messages!", len(removed))}, nil
}

func (r *Router) silence(ctx context.Context, req *Request) (transport.Response, error) {
	activity, _ := req.Option(optActivity)
	var until *time.Time
	if v, ok := req.Option(optSilenceFor); ok {
		d, known := SilenceDuration(v)
		if !known {
			return transport.Response{}, fmt.Errorf("%w: unknown silence duration %q", trigger.ErrInvalidInput, v)
		}
		t := r.now().Add(d)
		until = &t
	}
	watchers, err := r.svc.SilenceTriggers(ctx, req.Scope, activity, until)
	if err != nil {
		return transport.Response{}, err
	}
	if len(watchers) == 0 {
		return transport.Response{Content: "🤔 No recorded activities found, so none silenced.", Ephemeral: true}, nil
	}
	embeds := make([]transport.Embed, 0, len(watchers))
	for _, w := range watchers {
		if len(embeds) == maxEmbeds {
			break
		}
		embeds = append(embeds, transport.Embed{
			Title:       fmt.Sprintf("Activity `%s`", w.ActivityName),
			Description: silenceText(w),
		})
	}
	return transport.Response{Content: "### 🤫 The following activities were silenced", Embeds: embeds, Ephemeral: true}, nil
}

func (r *Router) unsilence(ctx context.Context, req *Request) (transport.Response, error) {
	activity, _ := req.Option(optActivity)
	watchers, err := r.svc.UnsilenceTriggers(ctx, req.Scope, activity)
	if err != nil {
		return transport.Response{}, err
	}
	if len(watchers) == 0 {
		return transport.Response{Content: "🤔 No recorded activities found, so none awaken.", Ephemeral: true}, nil
	}
	embeds := make([]transport.Embed, 0, len(watchers))
	for _, w := range watchers {
		if len(embeds) == maxEmbeds {
			break
		}
		embeds = append(embeds, transport.Embed{Title: fmt.Sprintf("Activity `%s`", w.ActivityName)})
	}
	return transport.Response{Content: "### 🌞 The following activities were unsilenced", Embeds: embeds, Ephemeral: true}, nil
}

// silenceText renders a silence with a platform timestamp tag, which each
// viewer sees in their own timezone.
func silenceText(w storage.Watcher) string {
	if w.SilencedIndefinitely || w.SilencedUntil == nil {
		return "Silenced until unsilenced"
	}
	return fmt.Sprintf("Silenced until <t:%d:F>", w.SilencedUntil.Unix())
}

func messageID(req *Request) (int64, bool) {
	v, ok := req.Option(optMessageID)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil && id > 0
}

func (r *Router) recordedActivities(ctx context.Context, req *Request, query string) ([]transport.Choice, error) {
	names, err := r.svc.SuggestActivities(ctx, req.Scope.UserID, query)
	if err != nil {
		return nil, err
	}
	return nameChoices(names), nil
}

func (r *Router) activitiesWithMessages(silenced *bool) AutocompleteFunc {
	return func(ctx context.Context, req *Request, query string) ([]transport.Choice, error) {
		names, err := r.svc.ActivityChoices(ctx, req.Scope, silenced, query)
		if err != nil {
			return nil, err
		}
		return nameChoices(names), nil
	}
}

func (r *Router) channelMessageIDs(ctx context.Context, req *Request, query string) ([]transport.Choice, error) {
	msgs, err := r.svc.MessageChoices(ctx, req.Scope.UserID, req.Scope.ChannelID)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]transport.Choice, 0, len(msgs))
	for _, m := range msgs {
		id := strconv.FormatInt(m.ID, 10)
		if q != "" && !strings.HasPrefix(id, q) && !strings.Contains(strings.ToLower(m.Text), q) {
			continue
		}
		out = append(out, transport.Choice{Name: id + ": " + oneLine(m.Text, 80), Value: id})
	}
	return out, nil
}

func nameChoices(names []string) []transport.Choice {
	out := make([]transport.Choice, 0, len(names))
	for _, n := range names {
		out = append(out, transport.Choice{Name: n, Value: n})
	}
	return out
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
