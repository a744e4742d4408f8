package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "joinme/pkg/logx"
)

// sdNotifier reports service state to systemd. Every call is a no-op when
// the process was not started with NOTIFY_SOCKET.
type sdNotifier struct {
	enabled  bool
	watchdog bool
	log      logx.Logger

	notify func(state string) (bool, error)
	period func() (time.Duration, error)
}

func newSDNotifier(enabled, watchdog bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{
		enabled:  enabled,
		watchdog: watchdog,
		log:      log.With(logx.String("comp", "systemd")),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		period:   func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *sdNotifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Reloading() {
	n.send(daemon.SdNotifyReloading)
}

// RunWatchdog pings the watchdog at half the configured interval until ctx
// ends. It returns at once when systemd has no watchdog set for the unit.
func (n *sdNotifier) RunWatchdog(ctx context.Context, healthy func(context.Context) error) {
	if n == nil || !n.enabled || !n.watchdog {
		return
	}
	every, err := n.period()
	if err != nil {
		n.log.Warn("watchdog lookup failed", logx.Err(err))
		return
	}
	if every <= 0 {
		n.log.Debug("watchdog not configured for this unit")
		return
	}
	tick := time.NewTicker(every / 2)
	defer tick.Stop()
	n.log.Info("watchdog enabled", logx.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if healthy != nil {
				hctx, cancel := context.WithTimeout(ctx, every/4)
				err := healthy(hctx)
				cancel()
				if err != nil {
					n.log.Warn("health check failed; skipping watchdog ping", logx.Err(err))
					continue
				}
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
