package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	// ErrNotSent is wrapped by send errors raised before anything reached
	// the platform.
	ErrNotSent = errors.New("transport: not sent")
)

type UpdateKind string

const (
	UpdatePresence     UpdateKind = "presence"
	UpdateCommand      UpdateKind = "command"
	UpdateAutocomplete UpdateKind = "autocomplete"
)

// Update is the closed set of inbound signals an adapter delivers.
// Exactly one payload pointer is set, matching Kind.
type Update struct {
	Kind        UpdateKind
	Presence    *Presence
	Interaction *Interaction
}

// Activity is one entry of a presence update. StartedAt is the platform's
// own creation timestamp for the activity (zero when absent).
type Activity struct {
	Name      string
	StartedAt time.Time
}

type Presence struct {
	GuildID    string
	UserID     string
	Activities []Activity
	ReceivedAt time.Time
}

type Option struct {
	Name    string
	Value   string
	Focused bool
}

// Interaction is a slash command invocation or an autocomplete request.
type Interaction struct {
	ID        string
	Command   string
	GuildID   string
	ChannelID string
	UserID    string
	Username  string
	Options   []Option

	Ref any // adapter-specific (Discord: *discordgo.Interaction)
}

// Option returns the trimmed value of the named option.
func (in *Interaction) Option(name string) (string, bool) {
	if in == nil {
		return "", false
	}
	for _, o := range in.Options {
		if o.Name == name {
			v := strings.TrimSpace(o.Value)
			return v, v != ""
		}
	}
	return "", false
}

func (in *Interaction) Focused() (Option, bool) {
	if in == nil {
		return Option{}, false
	}
	for _, o := range in.Options {
		if o.Focused {
			return o, true
		}
	}
	return Option{}, false
}

type Embed struct {
	Title       string
	Description string
}

type Choice struct {
	Name  string
	Value string
}

// Response answers an Interaction. For autocomplete requests only Choices is used.
type Response struct {
	Content           string
	Embeds            []Embed
	Ephemeral         bool
	AllowRoleMentions bool
	Choices           []Choice
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type SendOptions struct {
	AllowRoleMentions bool
	SuppressEmbeds    bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, channelID, text string, opt *SendOptions) (MessageRef, error)
	Respond(ctx context.Context, in *Interaction, resp Response) error
}

type OptionKind string

const (
	OptionString  OptionKind = "string"
	OptionInteger OptionKind = "integer"
)

type OptionSpec struct {
	Name         string
	Description  string
	Kind         OptionKind
	Required     bool
	Autocomplete bool
	Choices      []Choice
}

// CommandSpec describes one slash command for platform registration.
type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
}

// CommandRegistrar is an optional interface for adapters that publish a
// command list to the platform.
type CommandRegistrar interface {
	RegisterCommands(ctx context.Context, cmds []CommandSpec) error
}

// MessageHistory is an optional interface for adapters that can look up a
// user's recent channel messages.
type MessageHistory interface {
	// LatestMessage returns the user's most recent non-empty message in the
	// channel with attachment URLs appended on their own lines.
	LatestMessage(ctx context.Context, channelID, userID string) (string, bool, error)
}
