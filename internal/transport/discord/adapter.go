package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "joinme/internal/runtime/supervisor"
	"joinme/internal/transport"
	logx "joinme/pkg/logx"
)

type Config struct {
	Token         string
	ApplicationID string
	// CommandGuildID scopes command registration to one guild. Empty means global.
	CommandGuildID string
}

// Intents are the gateway intents the bot needs: presences to see
// activities, message content to copy a user's latest message.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     atomic.Value // stores (chan<- transport.Update)
	now     func() time.Time

	runMu    sync.Mutex
	running  bool
	sup      *rtsup.Supervisor
	removers []func()

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the gateway. Reported periodically.
	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = Intents
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "discord")), session: s, now: time.Now}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) registerHandlers() []func() {
	return []func(){
		a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			if a.cfg.ApplicationID == "" && r.User != nil {
				a.runMu.Lock()
				a.cfg.ApplicationID = r.User.ID
				a.runMu.Unlock()
			}
			a.log.Info("gateway ready", logx.Int("guilds", len(r.Guilds)))
		}),
		a.session.AddHandler(func(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
			if pr, ok := presenceFromEvent(p, a.now()); ok {
				a.sendUpdate(transport.Update{Kind: transport.UpdatePresence, Presence: &pr})
			}
		}),
		a.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			if up, ok := updateFromInteraction(i); ok {
				a.sendUpdate(up)
			}
		}),
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(out)
	a.removers = a.registerHandlers()
	if err := a.session.Open(); err != nil {
		for _, rm := range a.removers {
			rm()
		}
		a.removers = nil
		var nilOut chan<- transport.Update
		a.out.Store(nilOut)
		a.runMu.Unlock()
		return fmt.Errorf("discord gateway open: %w", err)
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	removers := a.removers
	a.removers = nil
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	for _, rm := range removers {
		rm()
	}
	if sup != nil {
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop timed out", logx.Err(err))
		}
	}
	if err := a.session.Close(); err != nil {
		a.log.Warn("gateway close", logx.Err(err))
	}
	a.log.Info("gateway disconnected")
	return nil
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !a.isRunning() {
		return transport.MessageRef{}, transport.ErrNotConnected
	}
	msg, err := a.session.ChannelMessageSendComplex(channelID, messageSend(text, opt), discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (a *Adapter) Respond(ctx context.Context, in *transport.Interaction, resp transport.Response) error {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok := in.Ref.(*discordgo.Interaction)
	if !ok || raw == nil {
		return errors.New("discord: interaction has no session reference")
	}
	return a.session.InteractionRespond(raw, interactionResponse(raw.Type, resp), discordgo.WithContext(ctx))
}

// RegisterCommands overwrites the application's command list.
func (a *Adapter) RegisterCommands(ctx context.Context, cmds []transport.CommandSpec) error {
	a.runMu.Lock()
	appID, guildID := a.cfg.ApplicationID, a.cfg.CommandGuildID
	a.runMu.Unlock()
	if appID == "" {
		return errors.New("discord: application id unknown; set discord.application_id or wait for the gateway")
	}
	got, err := a.session.ApplicationCommandBulkOverwrite(appID, guildID, applicationCommands(cmds), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	a.log.Info("commands registered", logx.Int("count", len(got)), logx.String("guild_id", guildID))
	return nil
}

// historyDepth is how many recent channel messages LatestMessage scans.
const historyDepth = 50

func (a *Adapter) LatestMessage(ctx context.Context, channelID, userID string) (string, bool, error) {
	msgs, err := a.session.ChannelMessages(channelID, historyDepth, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("channel history: %w", err)
	}
	text, ok := latestFrom(msgs, userID)
	return text, ok, nil
}

func (a *Adapter) isRunning() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.running
}
