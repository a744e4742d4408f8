package commands

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"joinme/internal/storage"
	"joinme/internal/transport"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeHistory struct{ text string }

func (h fakeHistory) LatestMessage(context.Context, string, string) (string, bool, error) {
	return h.text, h.text != "", nil
}

type recordingResponder struct {
	mu    sync.Mutex
	resps []transport.Response
}

func (r *recordingResponder) Respond(_ context.Context, _ *transport.Interaction, resp transport.Response) error {
	r.mu.Lock()
	r.resps = append(r.resps, resp)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	store  *storage.Store
	router *Router
	hist   *fakeHistory
	resp   *recordingResponder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	clock := func() time.Time { return t0 }
	f := &fixture{store: st, hist: &fakeHistory{}, resp: &recordingResponder{}}
	f.router = New(Deps{
		Service:   trigger.NewService(st, trigger.NewSilenceController(st, clock, 0), clock, logx.Nop()),
		History:   f.hist,
		Responder: f.resp,
		Clock:     clock,
	})
	return f
}

func interaction(cmd string, opts ...transport.Option) *transport.Interaction {
	return &transport.Interaction{ID: "i1", Command: cmd, GuildID: "g1", ChannelID: "c1", UserID: "u1", Username: "ann", Options: opts}
}

func opt(name, value string) transport.Option { return transport.Option{Name: name, Value: value} }

func (f *fixture) add(t *testing.T, activity, text string) {
	t.Helper()
	f.hist.text = text
	resp := f.router.Execute(context.Background(), interaction(CmdAdd, opt(optActivity, activity)))
	if !strings.Contains(resp.Content, "Message added") {
		t.Fatalf("add %q: %+v", activity, resp)
	}
}

func TestDefinitionsCoverEveryCommand(t *testing.T) {
	f := newFixture(t)
	want := []string{CmdAdd, CmdList, CmdPreview, CmdRemove, CmdRemoveAll, CmdSilence, CmdUnsilence}
	defs := f.router.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d definitions", len(defs))
	}
	for i, d := range defs {
		if d.Name != want[i] || d.Description == "" {
			t.Fatalf("definition %d = %+v", i, d)
		}
	}
}

func TestAddUsesLatestMessage(t *testing.T) {
	f := newFixture(t)
	f.hist.text = "lfg <@&123>"
	resp := f.router.Execute(context.Background(), interaction(CmdAdd, opt(optActivity, "Factorio")))
	if len(resp.Embeds) != 1 || resp.Embeds[0].Description != "lfg <@&123>" || !strings.Contains(resp.Embeds[0].Title, "`Factorio`") {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.AllowRoleMentions {
		t.Fatalf("confirmation must not ping roles")
	}

	f.hist.text = ""
	resp = f.router.Execute(context.Background(), interaction(CmdAdd, opt(optActivity, "Factorio")))
	if !strings.Contains(resp.Content, "Unable to find") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestAddRejectsBlankActivity(t *testing.T) {
	f := newFixture(t)
	f.hist.text = "hi"
	resp := f.router.Execute(context.Background(), interaction(CmdAdd, opt(optActivity, "  ")))
	if !resp.Ephemeral || !strings.Contains(resp.Content, "Activity name is empty") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestCommandsRequireGuild(t *testing.T) {
	f := newFixture(t)
	in := interaction(CmdList)
	in.GuildID = ""
	resp := f.router.Execute(context.Background(), in)
	if !resp.Ephemeral || !strings.Contains(resp.Content, "within a server") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestListPreviewRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.router.Execute(ctx, interaction(CmdList))
	if !strings.Contains(resp.Content, "No activity messages") {
		t.Fatalf("empty list: %+v", resp)
	}

	f.add(t, "Factorio", "f1")
	f.add(t, "Celeste", "c1")

	resp = f.router.Execute(ctx, interaction(CmdList))
	if len(resp.Embeds) != 2 {
		t.Fatalf("list: %+v", resp)
	}
	resp = f.router.Execute(ctx, interaction(CmdList, opt(optActivity, "Celeste")))
	if len(resp.Embeds) != 1 || resp.Embeds[0].Description != "c1" || !strings.Contains(resp.Content, "`Celeste`") {
		t.Fatalf("filtered list: %+v", resp)
	}

	msgs, _ := f.store.MessagesInChannel(ctx, "u1", "c1", 10)
	id := msgs[0].ID

	resp = f.router.Execute(ctx, interaction(CmdPreview, opt(optMessageID, itoa(id))))
	if resp.Content != msgs[0].Text || !resp.AllowRoleMentions {
		t.Fatalf("preview: %+v", resp)
	}
	resp = f.router.Execute(ctx, interaction(CmdPreview, opt(optMessageID, "abc")))
	if !strings.Contains(resp.Content, "Unable to preview") {
		t.Fatalf("bad id preview: %+v", resp)
	}

	other := interaction(CmdRemove, opt(optMessageID, itoa(id)))
	other.UserID = "u2"
	if resp = f.router.Execute(ctx, other); !strings.Contains(resp.Content, "Could not delete") {
		t.Fatalf("foreign remove: %+v", resp)
	}
	if resp = f.router.Execute(ctx, interaction(CmdRemove, opt(optMessageID, itoa(id)))); resp.Content != "❌ Deleted message!" {
		t.Fatalf("remove: %+v", resp)
	}
}

func TestListCapsEmbeds(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < maxEmbeds+3; i++ {
		f.add(t, "Factorio", "msg "+itoa(int64(i)))
	}
	resp := f.router.Execute(context.Background(), interaction(CmdList))
	if len(resp.Embeds) != maxEmbeds || !strings.Contains(resp.Content, "showing 10 of 13") {
		t.Fatalf("resp content=%q embeds=%d", resp.Content, len(resp.Embeds))
	}
}

func TestRemoveAll(t *testing.T) {
	f := newFixture(t)
	f.add(t, "Factorio", "a")
	f.add(t, "Factorio", "b")
	resp := f.router.Execute(context.Background(), interaction(CmdRemoveAll))
	if resp.Content != "❌ Removed 2 messages!" {
		t.Fatalf("resp=%+v", resp)
	}
	resp = f.router.Execute(context.Background(), interaction(CmdRemoveAll))
	if !strings.Contains(resp.Content, "No messages") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestSilenceAndUnsilence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "Factorio", "a")

	resp := f.router.Execute(ctx, interaction(CmdSilence, opt(optSilenceFor, "3h")))
	if !resp.Ephemeral || len(resp.Embeds) != 1 {
		t.Fatalf("silence: %+v", resp)
	}
	wantTag := "<t:" + itoa(t0.Add(3*time.Hour).Unix()) + ":F>"
	if !strings.Contains(resp.Embeds[0].Description, wantTag) {
		t.Fatalf("description=%q want %s", resp.Embeds[0].Description, wantTag)
	}

	resp = f.router.Execute(ctx, interaction(CmdSilence, opt(optActivity, "Factorio")))
	if resp.Embeds[0].Description != "Silenced until unsilenced" {
		t.Fatalf("indefinite: %+v", resp.Embeds)
	}

	resp = f.router.Execute(ctx, interaction(CmdSilence, opt(optSilenceFor, "2y")))
	if !resp.Ephemeral || !strings.Contains(resp.Content, "Unknown silence duration") {
		t.Fatalf("bad duration: %+v", resp)
	}

	resp = f.router.Execute(ctx, interaction(CmdUnsilence))
	if len(resp.Embeds) != 1 || !strings.Contains(resp.Content, "unsilenced") {
		t.Fatalf("unsilence: %+v", resp)
	}

	resp = f.router.Execute(ctx, interaction(CmdSilence, opt(optActivity, "Minesweeper")))
	if !strings.Contains(resp.Content, "none silenced") {
		t.Fatalf("no match: %+v", resp)
	}
}

func TestAutocomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "Factorio", "alpha")
	f.add(t, "Celeste", "beta")
	if err := f.store.RecordActivity(ctx, "u1", "Satisfactory", t0); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}

	focused := func(cmd, name, value string) *transport.Interaction {
		return interaction(cmd, transport.Option{Name: name, Value: value, Focused: true})
	}

	got := f.router.Complete(ctx, focused(CmdAdd, optActivity, "sat"))
	if len(got) != 1 || got[0].Value != "Satisfactory" {
		t.Fatalf("recorded activities: %+v", got)
	}

	got = f.router.Complete(ctx, focused(CmdList, optActivity, ""))
	if len(got) != 2 {
		t.Fatalf("activities with messages: %+v", got)
	}

	f.router.Execute(ctx, interaction(CmdSilence, opt(optActivity, "Celeste")))
	if got = f.router.Complete(ctx, focused(CmdUnsilence, optActivity, "")); len(got) != 1 || got[0].Value != "Celeste" {
		t.Fatalf("silenced choices: %+v", got)
	}
	if got = f.router.Complete(ctx, focused(CmdSilence, optActivity, "")); len(got) != 1 || got[0].Value != "Factorio" {
		t.Fatalf("unsilenced choices: %+v", got)
	}

	got = f.router.Complete(ctx, focused(CmdRemove, optMessageID, "bet"))
	if len(got) != 1 || !strings.HasSuffix(got[0].Name, ": beta") {
		t.Fatalf("message ids: %+v", got)
	}
}

func TestAutocompleteFailureYieldsNoChoices(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Close()
	in := interaction(CmdList, transport.Option{Name: optActivity, Focused: true})
	if got := f.router.Complete(context.Background(), in); len(got) != 0 {
		t.Fatalf("choices=%+v", got)
	}
}

func TestHandleResponds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.router.Handle(ctx, transport.Update{Kind: transport.UpdateCommand, Interaction: interaction(CmdList)}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := f.router.Handle(ctx, transport.Update{Kind: transport.UpdatePresence, Presence: &transport.Presence{}}); err != nil {
		t.Fatalf("Handle presence: %v", err)
	}
	if len(f.resp.resps) != 1 {
		t.Fatalf("responses=%d want 1", len(f.resp.resps))
	}
}

func TestSilenceDuration(t *testing.T) {
	for v, want := range map[string]time.Duration{"1h": time.Hour, "3h": 3 * time.Hour, "1d": 24 * time.Hour, "1w": 168 * time.Hour} {
		if got, ok := SilenceDuration(v); !ok || got != want {
			t.Fatalf("%s: got %v ok=%v", v, got, ok)
		}
	}
	if _, ok := SilenceDuration("5m"); ok {
		t.Fatalf("unexpected duration for 5m")
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
