package app

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "joinme/pkg/logx"
)

type recordedStates struct {
	mu     sync.Mutex
	states []string
}

func (r *recordedStates) notify(state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recordedStates) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestSDNotifierDisabledSendsNothing(t *testing.T) {
	rec := &recordedStates{}
	n := newSDNotifier(false, true, logx.Nop())
	n.notify = rec.notify
	n.Ready()
	n.Stopping()
	if len(rec.states) != 0 {
		t.Fatalf("states=%v", rec.states)
	}
}

func TestSDNotifierReadyAndStopping(t *testing.T) {
	rec := &recordedStates{}
	n := newSDNotifier(true, false, logx.Nop())
	n.notify = rec.notify
	n.Ready()
	n.Stopping()
	if rec.count(daemon.SdNotifyReady) != 1 || rec.count(daemon.SdNotifyStopping) != 1 {
		t.Fatalf("states=%v", rec.states)
	}
}

func TestWatchdogPingsOnlyWhenHealthy(t *testing.T) {
	rec := &recordedStates{}
	n := newSDNotifier(true, true, logx.Nop())
	n.notify = rec.notify
	n.period = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	var mu sync.Mutex
	healthy := false
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return errors.New("store down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.RunWatchdog(ctx, check)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	if got := rec.count(daemon.SdNotifyWatchdog); got != 0 {
		t.Fatalf("pinged %d times while unhealthy", got)
	}
	mu.Lock()
	healthy = true
	mu.Unlock()
	waitFor(t, "watchdog ping", func() bool { return rec.count(daemon.SdNotifyWatchdog) > 0 })

	cancel()
	<-done
}

func TestWatchdogReturnsWhenUnitHasNone(t *testing.T) {
	n := newSDNotifier(true, true, logx.Nop())
	n.period = func() (time.Duration, error) { return 0, nil }
	done := make(chan struct{})
	go func() {
		n.RunWatchdog(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunWatchdog did not return")
	}
}

func TestReasonFromSignal(t *testing.T) {
	if got := ReasonFromSignal(os.Interrupt); got != StopSIGINT {
		t.Fatalf("interrupt=%q", got)
	}
	if got := ReasonFromSignal(syscall.SIGTERM); got != StopSIGTERM {
		t.Fatalf("sigterm=%q", got)
	}
	if got := ReasonFromSignal(nil); got != StopUnknown {
		t.Fatalf("nil=%q", got)
	}
}
