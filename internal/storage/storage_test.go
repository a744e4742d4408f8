package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "joinme/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var (
	t0  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key = WatcherKey{GuildID: "g1", UserID: "u1", ActivityName: "Factorio", ChannelID: "c1"}
)

func mustAdd(t *testing.T, s *Store, k WatcherKey, text string) Message {
	t.Helper()
	m, err := s.AddTrigger(context.Background(), k, text, t0)
	if err != nil {
		t.Fatalf("AddTrigger: %v", err)
	}
	return m
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "joinme.db")
	s, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Close()

	s, err = Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("version=%d want %d", v, len(migrations))
	}
	var fk int
	if err := s.db.Get(&fk, "PRAGMA foreign_keys"); err != nil || fk != 1 {
		t.Fatalf("foreign_keys=%d err=%v", fk, err)
	}
}

func TestGetOrCreateWatcherIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateWatcher(ctx, key, t0)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := s.GetOrCreateWatcher(ctx, key, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("ids differ: %d vs %d", a.ID, b.ID)
	}
	if a.LastTriggered != nil || a.SilencedUntil != nil || a.SilencedIndefinitely {
		t.Fatalf("new watcher should be idle: %+v", a)
	}
}

func TestAddTriggerSharesWatcher(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1 := mustAdd(t, s, key, "first")
	m2 := mustAdd(t, s, key, "second")
	other := key
	other.ChannelID = "c2"
	mustAdd(t, s, other, "elsewhere")

	if m1.WatcherID != m2.WatcherID {
		t.Fatalf("messages should share a watcher")
	}
	resolved, err := s.ResolveWatchers(ctx, "g1", "u1", "Factorio")
	if err != nil {
		t.Fatalf("ResolveWatchers: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved %d watchers, want 2 (one per channel)", len(resolved))
	}

	triggers, err := s.ListTriggers(ctx, WatcherFilter{GuildID: "g1", UserID: "u1", ChannelID: "c1"})
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(triggers) != 1 || len(triggers[0].Messages) != 2 {
		t.Fatalf("unexpected triggers: %+v", triggers)
	}
	if triggers[0].Messages[0].Text != "first" {
		t.Fatalf("messages out of order: %+v", triggers[0].Messages)
	}
}

func TestResolveWatchersNoMatch(t *testing.T) {
	s := newTestStore(t)
	ws, err := s.ResolveWatchers(context.Background(), "g1", "u1", "Nothing")
	if err != nil || len(ws) != 0 {
		t.Fatalf("want empty result, got %v err=%v", ws, err)
	}
}

func TestMarkTriggeredExactlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, key, "hi")

	const racers = 16
	start := t0.Add(time.Minute)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each racer has its own wall clock, all after the activity start.
			_, ok, err := s.MarkTriggered(context.Background(), m.WatcherID, start, start.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				t.Errorf("MarkTriggered: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins=%d want exactly 1", wins)
	}
}

func TestMarkTriggeredLaterStartWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := mustAdd(t, s, key, "hi")

	w, ok, err := s.MarkTriggered(ctx, m.WatcherID, t0, t0.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("first mark ok=%v err=%v", ok, err)
	}
	if !w.LastTriggered.Equal(t0.Add(time.Second)) {
		t.Fatalf("last_triggered=%v", w.LastTriggered)
	}
	if _, ok, _ := s.MarkTriggered(ctx, m.WatcherID, t0, t0.Add(2*time.Second)); ok {
		t.Fatalf("same activity start must not mark twice")
	}
	if _, ok, _ := s.MarkTriggered(ctx, m.WatcherID, t0.Add(time.Hour), t0.Add(time.Hour)); !ok {
		t.Fatalf("later activity start should mark")
	}
	if _, ok, _ := s.MarkTriggered(ctx, 9999, t0, t0); ok {
		t.Fatalf("unknown watcher should not mark")
	}
}

func TestExtendSilenceNeverShortens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := mustAdd(t, s, key, "hi")

	if _, ok, err := s.ExtendSilence(ctx, m.WatcherID, t0.Add(5*time.Minute)); err != nil || !ok {
		t.Fatalf("extend ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.ExtendSilence(ctx, m.WatcherID, t0.Add(time.Minute)); ok {
		t.Fatalf("shorter silence must not apply")
	}

	only := WatcherFilter{GuildID: key.GuildID, UserID: key.UserID, ChannelID: key.ChannelID, ActivityName: key.ActivityName}
	later := t0.Add(time.Hour)
	if _, err := s.SilenceWatchers(ctx, only, &later, false); err != nil {
		t.Fatalf("SilenceWatchers: %v", err)
	}
	if _, ok, _ := s.ExtendSilence(ctx, m.WatcherID, t0.Add(10*time.Minute)); ok {
		t.Fatalf("automatic silence must not cut a longer manual silence")
	}

	if _, err := s.SilenceWatchers(ctx, only, nil, true); err != nil {
		t.Fatalf("SilenceWatchers indefinite: %v", err)
	}
	if _, ok, _ := s.ExtendSilence(ctx, m.WatcherID, t0.Add(24*365*time.Hour)); ok {
		t.Fatalf("indefinite silence must not be replaced")
	}
	w, _, _ := s.GetWatcher(ctx, m.WatcherID)
	if !w.SilencedIndefinitely || w.SilencedUntil != nil {
		t.Fatalf("unexpected state: %+v", w)
	}

	ws, err := s.UnsilenceWatchers(ctx, only)
	if err != nil || len(ws) != 1 || ws[0].SilencedAt(t0) {
		t.Fatalf("clear: err=%v ws=%+v", err, ws)
	}
}

func TestSilenceWatchersFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, key, "a")
	k2 := key
	k2.ActivityName = "Celeste"
	mustAdd(t, s, k2, "b")

	base := WatcherFilter{GuildID: "g1", UserID: "u1", ChannelID: "c1", Now: t0}
	until := t0.Add(time.Hour)
	f := base
	f.ActivityName = "Celeste"
	ws, err := s.SilenceWatchers(ctx, f, &until, false)
	if err != nil || len(ws) != 1 || ws[0].ActivityName != "Celeste" {
		t.Fatalf("silence: %+v err=%v", ws, err)
	}

	yes, no := true, false
	f = base
	f.Silenced = &yes
	names, err := s.ActivitiesWithMessages(ctx, f, 0)
	if err != nil || len(names) != 1 || names[0] != "Celeste" {
		t.Fatalf("silenced names=%v err=%v", names, err)
	}
	f.Silenced = &no
	names, err = s.ActivitiesWithMessages(ctx, f, 0)
	if err != nil || len(names) != 1 || names[0] != "Factorio" {
		t.Fatalf("unsilenced names=%v err=%v", names, err)
	}

	ws, err = s.UnsilenceWatchers(ctx, base)
	if err != nil || len(ws) != 2 {
		t.Fatalf("unsilence: %+v err=%v", ws, err)
	}
	for _, w := range ws {
		if w.SilencedAt(t0) {
			t.Fatalf("still silenced: %+v", w)
		}
	}
}

func TestRemoveTriggerRequiresOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m1 := mustAdd(t, s, key, "one")
	m2 := mustAdd(t, s, key, "two")

	if ok, err := s.RemoveTrigger(ctx, m1.ID, "intruder", "c1"); err != nil || ok {
		t.Fatalf("foreign user removed message: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RemoveTrigger(ctx, m1.ID, "u1", "c9"); err != nil || ok {
		t.Fatalf("wrong channel removed message: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RemoveTrigger(ctx, m1.ID, "u1", "c1"); err != nil || !ok {
		t.Fatalf("owner remove: ok=%v err=%v", ok, err)
	}
	if _, found, _ := s.GetWatcher(ctx, m1.WatcherID); !found {
		t.Fatalf("watcher with remaining messages must survive")
	}
	if ok, err := s.RemoveTrigger(ctx, m2.ID, "u1", "c1"); err != nil || !ok {
		t.Fatalf("second remove: ok=%v err=%v", ok, err)
	}
	if _, found, _ := s.GetWatcher(ctx, m1.WatcherID); found {
		t.Fatalf("watcher left without messages should be deleted")
	}
	if ok, _ := s.RemoveTrigger(ctx, m2.ID, "u1", "c1"); ok {
		t.Fatalf("removing twice should be a no-op")
	}
}

func TestRemoveAllTriggers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, key, "a")
	mustAdd(t, s, key, "b")
	k2 := key
	k2.ActivityName = "Celeste"
	mustAdd(t, s, k2, "c")

	removed, err := s.RemoveAllTriggers(ctx, WatcherFilter{GuildID: "g1", UserID: "u1", ChannelID: "c1", ActivityName: "Factorio"})
	if err != nil {
		t.Fatalf("RemoveAllTriggers: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed=%d want 2", len(removed))
	}
	left, _ := s.ListTriggers(ctx, WatcherFilter{GuildID: "g1", UserID: "u1", ChannelID: "c1"})
	if len(left) != 1 || left[0].Watcher.ActivityName != "Celeste" {
		t.Fatalf("unexpected remaining triggers: %+v", left)
	}

	removed, err = s.RemoveAllTriggers(ctx, WatcherFilter{GuildID: "g1", UserID: "nobody", ChannelID: "c1"})
	if err != nil || len(removed) != 0 {
		t.Fatalf("no-match remove: %v err=%v", removed, err)
	}
}

func TestRemoveAllTriggersRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustAdd(t, s, key, fmt.Sprintf("m%d", i))
	}

	crash := errors.New("simulated crash")
	s.beforeCommit = func(op string) error {
		if op == "remove all triggers" {
			return crash
		}
		return nil
	}
	_, err := s.RemoveAllTriggers(ctx, WatcherFilter{GuildID: "g1", UserID: "u1", ChannelID: "c1"})
	if !errors.Is(err, crash) {
		t.Fatalf("err=%v want simulated crash", err)
	}
	s.beforeCommit = nil

	triggers, err := s.ListTriggers(ctx, WatcherFilter{GuildID: "g1", UserID: "u1", ChannelID: "c1"})
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(triggers) != 1 || len(triggers[0].Messages) != 3 {
		t.Fatalf("rollback incomplete: %+v", triggers)
	}
}

func TestForeignKeyPreventsOrphans(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, key, "hi")
	if _, err := s.db.Exec(`DELETE FROM activity_watcher WHERE id = ?`, m.WatcherID); err == nil {
		t.Fatalf("deleting a watcher with messages must fail")
	}
	if _, err := s.db.Exec(`INSERT INTO activity_message (activity_watcher, message, created_at) VALUES (9999, 'x', 0)`); err == nil {
		t.Fatalf("inserting an orphan message must fail")
	}
}

func TestGetMessageIfAllowedAndChannelListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := mustAdd(t, s, key, "preview me")

	got, ok, err := s.GetMessageIfAllowed(ctx, m.ID, "u1", "c1")
	if err != nil || !ok || got.Text != "preview me" {
		t.Fatalf("owner preview: %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := s.GetMessageIfAllowed(ctx, m.ID, "u2", "c1"); ok {
		t.Fatalf("other user must not preview")
	}

	mustAdd(t, s, key, "newer")
	list, err := s.MessagesInChannel(ctx, "u1", "c1", 1)
	if err != nil || len(list) != 1 || list[0].Text != "newer" {
		t.Fatalf("channel listing: %+v err=%v", list, err)
	}
}

func TestRecordedActivities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	must := func(name string, at time.Time) {
		if err := s.RecordActivity(ctx, "u1", name, at); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}
	must("Old", t0.Add(-100*24*time.Hour))
	must("Factorio", t0)
	must("Celeste", t0.Add(time.Minute))
	must("Factorio", t0.Add(2*time.Minute))
	must("Factorio", t0.Add(-time.Hour))

	acts, err := s.RecentActivities(ctx, "u1", 25)
	if err != nil {
		t.Fatalf("RecentActivities: %v", err)
	}
	if len(acts) != 3 || acts[0].ActivityName != "Factorio" || acts[1].ActivityName != "Celeste" {
		t.Fatalf("unexpected order: %+v", acts)
	}
	if !acts[0].LastSeen.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("last seen moved backwards: %v", acts[0].LastSeen)
	}

	n, err := s.PruneRecordedActivities(ctx, t0.Add(-90*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune n=%d err=%v", n, err)
	}
}

func TestClearExpiredSilencesAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, key, "hi")
	past := t0.Add(-time.Minute)
	only := WatcherFilter{GuildID: key.GuildID, UserID: key.UserID, ChannelID: key.ChannelID}
	if _, err := s.SilenceWatchers(ctx, only, &past, false); err != nil {
		t.Fatalf("SilenceWatchers: %v", err)
	}
	n, err := s.ClearExpiredSilences(ctx, t0)
	if err != nil || n != 1 {
		t.Fatalf("cleared=%d err=%v", n, err)
	}
	st, err := s.Stats(ctx, t0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Watchers != 1 || st.Messages != 1 || st.Silenced != 0 {
		t.Fatalf("stats=%+v", st)
	}
}
