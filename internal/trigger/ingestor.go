package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"joinme/internal/eventbus"
	"joinme/internal/storage"
	"joinme/internal/transport"
	logx "joinme/pkg/logx"
)

// customStatusName is the platform pseudo-activity carrying a user's status text.
const customStatusName = "Custom Status"

type Deps struct {
	Store          Store
	Dispatcher     Dispatcher
	Clock          Clock
	Rand           *rand.Rand
	DebounceWindow time.Duration
	Bus            eventbus.Bus
	Log            logx.Logger
}

// Ingestor drives activity events through the trigger pipeline.
type Ingestor struct {
	store      Store
	resolver   *Resolver
	selector   *Selector
	dispatcher Dispatcher
	recorder   *Recorder
	silence    *SilenceController

	clock Clock
	bus   eventbus.Bus
	log   logx.Logger
	newID func() string
}

func NewIngestor(d Deps) *Ingestor {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Ingestor{
		store:      d.Store,
		resolver:   NewResolver(d.Store),
		selector:   NewSelector(d.Store, d.Rand),
		dispatcher: d.Dispatcher,
		recorder:   NewRecorder(d.Store, d.Clock),
		silence:    NewSilenceController(d.Store, d.Clock, d.DebounceWindow),
		clock:      d.Clock,
		bus:        d.Bus,
		log:        d.Log.With(logx.String("comp", "trigger")),
		newID:      uuid.NewString,
	}
}

// Silence exposes the controller so config reloads can change the window.
func (in *Ingestor) Silence() *SilenceController { return in.silence }

// HandlePresence processes every activity in a presence update. Activities
// run concurrently and independently: a failure in one never stops another.
func (in *Ingestor) HandlePresence(ctx context.Context, p transport.Presence) Report {
	rep := Report{EventID: in.newID()}
	log := in.log.With(
		logx.String("event_id", rep.EventID),
		logx.String("guild_id", p.GuildID),
		logx.String("user_id", p.UserID),
	)

	received := p.ReceivedAt
	if received.IsZero() {
		received = in.clock()
	}
	events := EventsFromPresence(p, received)
	if len(events) == 0 {
		log.Trace("presence without trackable activities")
		return rep
	}

	for _, ev := range events {
		if err := in.store.RecordActivity(ctx, ev.UserID, ev.ActivityName, received); err != nil {
			log.Warn("record activity failed", logx.String("activity", ev.ActivityName), logx.Err(err))
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ev := range events {
		wg.Add(1)
		go func(ev ActivityEvent) {
			defer wg.Done()
			outs, err := in.handleEvent(ctx, log, ev)
			mu.Lock()
			rep.Outcomes = append(rep.Outcomes, outs...)
			if err != nil {
				rep.Errors = append(rep.Errors, err)
			}
			mu.Unlock()
		}(ev)
	}
	wg.Wait()
	return rep
}

// HandleEvent runs one activity event through every matching watcher,
// processing the watchers concurrently.
// An error means the watchers could not be resolved; per-watcher failures
// are reported in the outcomes instead.
func (in *Ingestor) HandleEvent(ctx context.Context, ev ActivityEvent) ([]Outcome, error) {
	return in.handleEvent(ctx, in.log.With(logx.String("event_id", in.newID())), ev)
}

func (in *Ingestor) handleEvent(ctx context.Context, log logx.Logger, ev ActivityEvent) ([]Outcome, error) {
	log = log.With(logx.String("activity", ev.ActivityName), logx.Time("started_at", ev.StartedAt))
	watchers, err := in.resolver.Resolve(ctx, ev.GuildID, ev.UserID, ev.ActivityName)
	if err != nil {
		log.Error("resolve watchers failed", logx.Err(err))
		return nil, fmt.Errorf("resolve %q: %w", ev.ActivityName, err)
	}
	if len(watchers) == 0 {
		return nil, nil
	}
	outs := make([]Outcome, len(watchers))
	var wg sync.WaitGroup
	for i, w := range watchers {
		wg.Add(1)
		go func(i int, w storage.Watcher) {
			defer wg.Done()
			outs[i] = in.processSafe(ctx, log, w, ev)
		}(i, w)
	}
	wg.Wait()
	return outs, nil
}

func (in *Ingestor) processSafe(ctx context.Context, log logx.Logger, w storage.Watcher, ev ActivityEvent) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("watcher processing panicked", logx.Int64("watcher_id", w.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = Outcome{WatcherID: w.ID, ChannelID: w.ChannelID, Kind: OutcomeFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out = in.process(ctx, log.With(logx.Int64("watcher_id", w.ID), logx.String("channel_id", w.ChannelID)), w, ev)
	in.publish(out, ev)
	return out
}

func (in *Ingestor) process(ctx context.Context, log logx.Logger, w storage.Watcher, ev ActivityEvent) Outcome {
	out := Outcome{WatcherID: w.ID, ChannelID: w.ChannelID}

	switch Evaluate(w, ev.StartedAt, in.clock()) {
	case DecisionAlreadyTriggered:
		log.Debug("skipped: already triggered for this activity start")
		out.Kind = OutcomeAlreadyTriggered
		return out
	case DecisionSilenced:
		log.Info("skipped: silenced", logx.Bool("indefinite", w.SilencedIndefinitely))
		out.Kind = OutcomeSilenced
		return out
	}

	msg, err := in.selector.Pick(ctx, w)
	if err != nil {
		log.Error("select message failed", logx.Err(err))
		out.Kind, out.Err = OutcomeFailed, err
		return out
	}
	if msg == nil {
		log.Debug("skipped: watcher has no messages")
		out.Kind = OutcomeNoMessages
		return out
	}
	out.MessageID = msg.ID

	sendErr := in.dispatcher.Send(ctx, w.ChannelID, msg.Text)
	if sendErr != nil && notSent(ctx, sendErr) {
		// Leave the watcher unclaimed so the same start can still fire later.
		log.Info("skipped: message not sent", logx.Int64("message_id", msg.ID), logx.Err(sendErr))
		out.Kind, out.Err = OutcomeNotSent, sendErr
		return out
	}
	if sendErr != nil {
		log.Warn("dispatch failed", logx.Int64("message_id", msg.ID), logx.Err(sendErr))
	}

	// A failed send is still recorded and debounced; delivery is never retried.
	if _, ok, err := in.recorder.Record(ctx, w, ev.StartedAt); err != nil {
		log.Error("record trigger failed", logx.Err(err))
		out.Kind, out.Err = OutcomeFailed, err
		return out
	} else if !ok {
		log.Info("lost trigger race; another event already recorded this activity start")
		out.Kind = OutcomeLostRace
		return out
	}

	if _, applied, err := in.silence.AutoSilence(ctx, w.ID); err != nil {
		log.Warn("auto-silence failed", logx.Err(err))
	} else if !applied {
		log.Debug("auto-silence skipped; longer silence already set")
	}

	if sendErr != nil {
		out.Kind, out.Err = OutcomeDispatchFailed, sendErr
		return out
	}
	log.Info("trigger dispatched", logx.Int64("message_id", msg.ID))
	out.Kind = OutcomeDispatched
	return out
}

// notSent reports send errors where nothing was handed to the platform:
// the dispatcher is off or disconnected, or the caller is shutting down.
func notSent(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, transport.ErrNotSent) ||
		errors.Is(err, transport.ErrNotConnected)
}

func (in *Ingestor) publish(out Outcome, ev ActivityEvent) {
	typ := eventbus.TriggerSkipped
	switch out.Kind {
	case OutcomeDispatched:
		typ = eventbus.TriggerDispatched
	case OutcomeDispatchFailed, OutcomeFailed:
		typ = eventbus.TriggerFailed
	}
	in.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
		"watcher_id": out.WatcherID,
		"activity":   ev.ActivityName,
		"outcome":    string(out.Kind),
	}})
}

// EventsFromPresence extracts trackable activity events. Blank names and
// the custom status pseudo-activity are dropped, as are repeated names.
// Activities without a start timestamp use received.
func EventsFromPresence(p transport.Presence, received time.Time) []ActivityEvent {
	out := make([]ActivityEvent, 0, len(p.Activities))
	seen := make(map[string]struct{}, len(p.Activities))
	for _, a := range p.Activities {
		name := strings.TrimSpace(a.Name)
		if name == "" || name == customStatusName {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		started := a.StartedAt
		if started.IsZero() {
			started = received
		}
		out = append(out, ActivityEvent{GuildID: p.GuildID, UserID: p.UserID, ActivityName: name, StartedAt: started})
	}
	return out
}
