package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"joinme/internal/transport"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

const defaultTimeout = 10 * time.Second

type Deps struct {
	Service   *trigger.Service
	History   transport.MessageHistory
	Responder Responder
	Log       logx.Logger
	Timeout   time.Duration
	Clock     func() time.Time
}

// Router owns the slash command table.
type Router struct {
	svc       *trigger.Service
	history   transport.MessageHistory
	responder Responder
	log       logx.Logger
	timeout   time.Duration
	now       func() time.Time

	cmds  map[string]Command
	order []string
}

func New(d Deps) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Timeout <= 0 {
		d.Timeout = defaultTimeout
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	r := &Router{
		svc:       d.Service,
		history:   d.History,
		responder: d.Responder,
		log:       d.Log.With(logx.String("comp", "commands")),
		timeout:   d.Timeout,
		now:       d.Clock,
		cmds:      map[string]Command{},
	}
	for _, c := range r.table() {
		r.cmds[c.Spec.Name] = c
		r.order = append(r.order, c.Spec.Name)
	}
	return r
}

// SetResponder swaps the interaction responder.
func (r *Router) SetResponder(resp Responder) { r.responder = resp }

// Definitions returns the command specs for platform registration.
func (r *Router) Definitions() []transport.CommandSpec {
	out := make([]transport.CommandSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.cmds[name].Spec)
	}
	return out
}

// Register publishes the command list through reg.
func (r *Router) Register(ctx context.Context, reg transport.CommandRegistrar) error {
	return reg.RegisterCommands(ctx, r.Definitions())
}

// Handle answers a command or autocomplete update. Other kinds are ignored.
func (r *Router) Handle(ctx context.Context, up transport.Update) error {
	if up.Interaction == nil || r.responder == nil {
		return nil
	}
	var resp transport.Response
	switch up.Kind {
	case transport.UpdateCommand:
		resp = r.Execute(ctx, up.Interaction)
	case transport.UpdateAutocomplete:
		resp = transport.Response{Choices: r.Complete(ctx, up.Interaction)}
	default:
		return nil
	}
	if err := r.responder.Respond(ctx, up.Interaction, resp); err != nil {
		r.log.Warn("respond failed", logx.String("cmd", up.Interaction.Command), logx.Err(err))
		return err
	}
	return nil
}

// Execute runs a slash command and returns its reply. Errors are rendered
// into an ephemeral reply.
func (r *Router) Execute(ctx context.Context, in *transport.Interaction) transport.Response {
	req := r.request(in)
	cmd, ok := r.cmds[in.Command]
	if !ok {
		req.Log.Debug("unknown command")
		return transport.Response{Content: "🤔 Unknown command.", Ephemeral: true}
	}
	if in.GuildID == "" {
		return errorResponse(errNoGuild)
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(r.timeout),
	)
	resp, err := h(ctx, req)
	if err != nil {
		return errorResponse(err)
	}
	return resp
}

// Complete returns autocomplete choices for the focused option. Failures
// are logged and answered with no choices.
func (r *Router) Complete(ctx context.Context, in *transport.Interaction) []transport.Choice {
	req := r.request(in)
	focused, ok := in.Focused()
	if !ok {
		return nil
	}
	cmd, ok := r.cmds[in.Command]
	if !ok {
		return nil
	}
	fn := cmd.Autocomplete[focused.Name]
	if fn == nil || in.GuildID == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	choices, err := fn(cctx, req, focused.Value)
	if err != nil {
		req.Log.Error("autocomplete failed", logx.String("option", focused.Name), logx.Err(err))
		return nil
	}
	if len(choices) > trigger.MaxChoices {
		choices = choices[:trigger.MaxChoices]
	}
	return choices
}

func (r *Router) request(in *transport.Interaction) *Request {
	return &Request{
		Interaction: in,
		Scope:       trigger.Scope{GuildID: in.GuildID, UserID: in.UserID, ChannelID: in.ChannelID},
		ReqID:       in.ID,
		Log: r.log.With(
			logx.String("rid", in.ID),
			logx.String("cmd", in.Command),
			logx.String("guild_id", in.GuildID),
			logx.String("channel_id", in.ChannelID),
			logx.String("user_id", in.UserID),
			logx.String("username", in.Username),
		),
	}
}

func errorResponse(err error) transport.Response {
	switch {
	case errors.Is(err, trigger.ErrInvalidInput):
		msg := strings.TrimPrefix(err.Error(), trigger.ErrInvalidInput.Error()+": ")
		return transport.Response{Content: "😕 " + upperFirst(msg) + ".", Ephemeral: true}
	case errors.Is(err, errNoGuild):
		return transport.Response{Content: "😕 " + upperFirst(err.Error()) + ".", Ephemeral: true}
	default:
		return transport.Response{Content: "💥 Something went wrong, please try again later.", Ephemeral: true}
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
