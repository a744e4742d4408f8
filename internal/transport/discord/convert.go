package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"joinme/internal/transport"
)

func presenceFromEvent(p *discordgo.PresenceUpdate, received time.Time) (transport.Presence, bool) {
	if p == nil || p.User == nil || p.User.ID == "" || p.GuildID == "" {
		return transport.Presence{}, false
	}
	if p.User.Bot {
		return transport.Presence{}, false
	}
	out := transport.Presence{GuildID: p.GuildID, UserID: p.User.ID, ReceivedAt: received}
	for _, act := range p.Activities {
		if act == nil || act.Type == discordgo.ActivityTypeCustom {
			continue
		}
		out.Activities = append(out.Activities, transport.Activity{Name: act.Name, StartedAt: act.CreatedAt})
	}
	return out, true
}

func updateFromInteraction(i *discordgo.InteractionCreate) (transport.Update, bool) {
	if i == nil || i.Interaction == nil {
		return transport.Update{}, false
	}
	var kind transport.UpdateKind
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		kind = transport.UpdateCommand
	case discordgo.InteractionApplicationCommandAutocomplete:
		kind = transport.UpdateAutocomplete
	default:
		return transport.Update{}, false
	}
	data := i.ApplicationCommandData()
	in := &transport.Interaction{
		ID:        i.ID,
		Command:   data.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Ref:       i.Interaction,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		in.UserID, in.Username = i.Member.User.ID, i.Member.User.Username
	case i.User != nil:
		in.UserID, in.Username = i.User.ID, i.User.Username
	}
	for _, o := range data.Options {
		if o == nil {
			continue
		}
		in.Options = append(in.Options, transport.Option{Name: o.Name, Value: optionValue(o.Value), Focused: o.Focused})
	}
	return transport.Update{Kind: kind, Interaction: in}, true
}

// optionValue renders an option value as text. Integer options arrive as
// JSON numbers.
func optionValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func messageSend(text string, opt *transport.SendOptions) *discordgo.MessageSend {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	ms := &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: allowedMentions(opt.AllowRoleMentions),
	}
	if opt.SuppressEmbeds {
		ms.Flags = discordgo.MessageFlagsSuppressEmbeds
	}
	return ms
}

func allowedMentions(roles bool) *discordgo.MessageAllowedMentions {
	am := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	if roles {
		am.Parse = append(am.Parse, discordgo.AllowedMentionTypeRoles)
	}
	return am
}

func interactionResponse(t discordgo.InteractionType, r transport.Response) *discordgo.InteractionResponse {
	if t == discordgo.InteractionApplicationCommandAutocomplete {
		choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(r.Choices))
		for _, c := range r.Choices {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: truncate(c.Name, 100), Value: c.Value})
		}
		return &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		}
	}
	data := &discordgo.InteractionResponseData{
		Content:         r.Content,
		AllowedMentions: allowedMentions(r.AllowRoleMentions),
	}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	for _, e := range r.Embeds {
		data.Embeds = append(data.Embeds, &discordgo.MessageEmbed{Title: e.Title, Description: e.Description})
	}
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseChannelMessageWithSource, Data: data}
}

func applicationCommands(specs []transport.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, s := range specs {
		cmd := &discordgo.ApplicationCommand{Name: s.Name, Description: s.Description}
		for _, o := range s.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:         discordgo.ApplicationCommandOptionString,
				Name:         o.Name,
				Description:  o.Description,
				Required:     o.Required,
				Autocomplete: o.Autocomplete,
			}
			if o.Kind == transport.OptionInteger {
				opt.Type = discordgo.ApplicationCommandOptionInteger
			}
			for _, c := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
			}
			cmd.Options = append(cmd.Options, opt)
		}
		out = append(out, cmd)
	}
	return out
}

// latestFrom returns the newest message by userID with non-empty content.
// Attachment URLs follow the content after a blank line. msgs are newest first.
func latestFrom(msgs []*discordgo.Message, userID string) (string, bool) {
	for _, m := range msgs {
		if m == nil || m.Author == nil || m.Author.ID != userID || strings.TrimSpace(m.Content) == "" {
			continue
		}
		var b strings.Builder
		b.WriteString(m.Content)
		sep := "\n\n"
		for _, at := range m.Attachments {
			if at == nil {
				continue
			}
			u := at.ProxyURL
			if u == "" {
				u = at.URL
			}
			b.WriteString(sep + u)
			sep = "\n"
		}
		return b.String(), true
	}
	return "", false
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
