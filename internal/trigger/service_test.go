package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAddTriggerValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name, activity, text string
	}{
		{"empty activity", "  ", "hi"},
		{"empty text", "Factorio", "\n\t"},
		{"text too long", "Factorio", strings.Repeat("é", MaxMessageLen+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.AddTrigger(ctx, scope, tc.activity, tc.text); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err=%v want ErrInvalidInput", err)
			}
		})
	}

	if _, err := h.svc.AddTrigger(ctx, scope, "Factorio", strings.Repeat("é", MaxMessageLen)); err != nil {
		t.Fatalf("message at the limit rejected: %v", err)
	}
}

func TestAddTriggerSharesWatcher(t *testing.T) {
	h := newHarness(t)
	a := h.add(t, scope, " Factorio ", "one")
	b := h.add(t, scope, "Factorio", "two")
	if a.WatcherID != b.WatcherID {
		t.Fatalf("messages landed on different watchers: %d vs %d", a.WatcherID, b.WatcherID)
	}

	trs, err := h.svc.ListTriggers(context.Background(), scope, "")
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(trs) != 1 || len(trs[0].Messages) != 2 || trs[0].Watcher.ActivityName != "Factorio" {
		t.Fatalf("triggers=%+v", trs)
	}
}

func TestListTriggersIsScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, scope, "Factorio", "f")
	h.add(t, scope, "Celeste", "c")
	other := scope
	other.UserID = "u2"
	h.add(t, other, "Factorio", "not mine")

	all, err := h.svc.ListTriggers(ctx, scope, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListTriggers all: %d err=%v", len(all), err)
	}
	if all[0].Watcher.ActivityName != "Celeste" || all[1].Watcher.ActivityName != "Factorio" {
		t.Fatalf("order=%s,%s", all[0].Watcher.ActivityName, all[1].Watcher.ActivityName)
	}
	one, err := h.svc.ListTriggers(ctx, scope, "Factorio")
	if err != nil || len(one) != 1 || one[0].Messages[0].Text != "f" {
		t.Fatalf("ListTriggers Factorio: %+v err=%v", one, err)
	}
}

func TestRemoveTriggerRequiresOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.add(t, scope, "Factorio", "f")

	if ok, err := h.svc.RemoveTrigger(ctx, m.ID, "u2", scope.ChannelID); err != nil || ok {
		t.Fatalf("foreign user removed message: ok=%v err=%v", ok, err)
	}
	if ok, err := h.svc.RemoveTrigger(ctx, m.ID, scope.UserID, "c9"); err != nil || ok {
		t.Fatalf("removed from the wrong channel: ok=%v err=%v", ok, err)
	}
	if ok, err := h.svc.RemoveTrigger(ctx, m.ID, scope.UserID, scope.ChannelID); err != nil || !ok {
		t.Fatalf("owner remove: ok=%v err=%v", ok, err)
	}
	if trs, _ := h.svc.ListTriggers(ctx, scope, ""); len(trs) != 0 {
		t.Fatalf("empty watcher kept: %+v", trs)
	}
}

func TestRemoveAllTriggers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, scope, "Factorio", "f1")
	h.add(t, scope, "Factorio", "f2")
	h.add(t, scope, "Celeste", "c")

	removed, err := h.svc.RemoveAllTriggers(ctx, scope, "Factorio")
	if err != nil || len(removed) != 2 {
		t.Fatalf("RemoveAllTriggers Factorio: %d err=%v", len(removed), err)
	}
	removed, err = h.svc.RemoveAllTriggers(ctx, scope, "")
	if err != nil || len(removed) != 1 || removed[0].Text != "c" {
		t.Fatalf("RemoveAllTriggers rest: %+v err=%v", removed, err)
	}
}

func TestSilenceAndUnsilenceTriggers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, scope, "Factorio", "f")
	h.add(t, scope, "Celeste", "c")

	until := t0.Add(3 * time.Hour)
	ws, err := h.svc.SilenceTriggers(ctx, scope, "Factorio", &until)
	if err != nil || len(ws) != 1 {
		t.Fatalf("SilenceTriggers: %+v err=%v", ws, err)
	}
	if ws[0].SilencedIndefinitely || ws[0].SilencedUntil == nil || !ws[0].SilencedUntil.Equal(until) {
		t.Fatalf("timed silence=%+v", ws[0])
	}

	ws, err = h.svc.SilenceTriggers(ctx, scope, "", nil)
	if err != nil || len(ws) != 2 {
		t.Fatalf("SilenceTriggers all: %+v err=%v", ws, err)
	}
	for _, w := range ws {
		if !w.SilencedIndefinitely || w.SilencedUntil != nil {
			t.Fatalf("indefinite silence=%+v", w)
		}
	}

	silenced := true
	names, err := h.svc.ActivityChoices(ctx, scope, &silenced, "")
	if err != nil || len(names) != 2 {
		t.Fatalf("silenced choices=%v err=%v", names, err)
	}

	if _, err := h.svc.UnsilenceTriggers(ctx, scope, "Celeste"); err != nil {
		t.Fatalf("UnsilenceTriggers: %v", err)
	}
	active := false
	names, err = h.svc.ActivityChoices(ctx, scope, &active, "")
	if err != nil || len(names) != 1 || names[0] != "Celeste" {
		t.Fatalf("active choices=%v err=%v", names, err)
	}
}

func TestSuggestActivities(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, name := range []string{"Factorio", "Satisfactory", "Celeste"} {
		if err := h.store.RecordActivity(ctx, "u1", name, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}

	got, err := h.svc.SuggestActivities(ctx, "u1", "FACTO")
	if err != nil {
		t.Fatalf("SuggestActivities: %v", err)
	}
	if len(got) != 2 || got[0] != "Satisfactory" || got[1] != "Factorio" {
		t.Fatalf("suggestions=%v", got)
	}
	if got, _ := h.svc.SuggestActivities(ctx, "u2", ""); len(got) != 0 {
		t.Fatalf("other user suggestions=%v", got)
	}
}

func TestPreviewAndMessageChoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.add(t, scope, "Factorio", "first")
	b := h.add(t, scope, "Celeste", "second")

	m, ok, err := h.svc.PreviewMessage(ctx, a.ID, scope.UserID, scope.ChannelID)
	if err != nil || !ok || m.Text != "first" {
		t.Fatalf("PreviewMessage: %+v ok=%v err=%v", m, ok, err)
	}
	if _, ok, _ := h.svc.PreviewMessage(ctx, a.ID, "u2", scope.ChannelID); ok {
		t.Fatalf("preview leaked another user's message")
	}

	msgs, err := h.svc.MessageChoices(ctx, scope.UserID, scope.ChannelID)
	if err != nil || len(msgs) != 2 || msgs[0].ID != b.ID {
		t.Fatalf("MessageChoices=%+v err=%v", msgs, err)
	}
}

func TestMatchChoicesCapsResults(t *testing.T) {
	names := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		names = append(names, "game")
	}
	if got := matchChoices(names, "GA"); len(got) != MaxChoices {
		t.Fatalf("len=%d want %d", len(got), MaxChoices)
	}
	if got := matchChoices([]string{"Factorio"}, "celeste"); len(got) != 0 {
		t.Fatalf("unexpected match %v", got)
	}
}
