package trigger

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"joinme/internal/eventbus"
	"joinme/internal/storage"
	logx "joinme/pkg/logx"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type sent struct {
	ChannelID string
	Text      string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sent
	err  map[string]error // by channel id
	hook func()           // runs before a failing send returns
}

func (d *fakeDispatcher) Send(ctx context.Context, channelID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err[channelID]; err != nil {
		if d.hook != nil {
			d.hook()
		}
		return err
	}
	d.sent = append(d.sent, sent{ChannelID: channelID, Text: text})
	return nil
}

func (d *fakeDispatcher) Sent() []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sent(nil), d.sent...)
}

type harness struct {
	store *storage.Store
	clock *fakeClock
	disp  *fakeDispatcher
	bus   eventbus.Bus
	in    *Ingestor
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store: st,
		clock: newFakeClock(t0),
		disp:  &fakeDispatcher{err: map[string]error{}},
		bus:   eventbus.New(),
	}
	h.in = NewIngestor(Deps{
		Store:      st,
		Dispatcher: h.disp,
		Clock:      h.clock.Now,
		Rand:       rand.New(rand.NewPCG(1, 2)),
		Bus:        h.bus,
		Log:        logx.Nop(),
	})
	h.svc = NewService(st, h.in.Silence(), h.clock.Now, logx.Nop())
	return h
}

var scope = Scope{GuildID: "g1", UserID: "u1", ChannelID: "c1"}

func (h *harness) add(t *testing.T, sc Scope, activity, text string) storage.Message {
	t.Helper()
	m, err := h.svc.AddTrigger(context.Background(), sc, activity, text)
	if err != nil {
		t.Fatalf("AddTrigger: %v", err)
	}
	return m
}

func (h *harness) event(activity string, started time.Time) ActivityEvent {
	return ActivityEvent{GuildID: "g1", UserID: "u1", ActivityName: activity, StartedAt: started}
}

func (h *harness) handle(t *testing.T, ev ActivityEvent) []Outcome {
	t.Helper()
	outs, err := h.in.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	return outs
}

func kinds(outs []Outcome) []OutcomeKind {
	ks := make([]OutcomeKind, 0, len(outs))
	for _, o := range outs {
		ks = append(ks, o.Kind)
	}
	return ks
}

func (h *harness) mustWatcher(t *testing.T, activity string) storage.Watcher {
	t.Helper()
	key := storage.WatcherKey{GuildID: scope.GuildID, UserID: scope.UserID, ActivityName: activity, ChannelID: scope.ChannelID}
	w, err := h.store.GetOrCreateWatcher(context.Background(), key, t0)
	if err != nil {
		t.Fatalf("GetOrCreateWatcher: %v", err)
	}
	return w
}
