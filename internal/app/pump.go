package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	rtsup "joinme/internal/runtime/supervisor"
	"joinme/internal/transport"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

// startWorkers drains the update queue with a fixed pool. The adapter
// drops updates when the queue is full, so a slow store never blocks the
// gateway.
func (a *App) startWorkers() {
	n := max(1, a.workers)
	for i := 0; i < n; i++ {
		a.sup.GoRestart(fmt.Sprintf("ingest.worker.%d", i), a.work,
			rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
	}
}

func (a *App) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-a.updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, up)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("update handler panicked", logx.String("kind", string(up.Kind)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	switch up.Kind {
	case transport.UpdatePresence:
		if up.Presence == nil {
			return
		}
		rep := a.ingestor.HandlePresence(ctx, *up.Presence)
		for _, err := range rep.Errors {
			a.log.Warn("presence processing error", logx.String("event_id", rep.EventID), logx.Err(err))
		}
		if n := rep.Count(trigger.OutcomeDispatched); n > 0 {
			a.log.Debug("presence dispatched triggers", logx.String("event_id", rep.EventID), logx.Int("count", n))
		}
	case transport.UpdateCommand, transport.UpdateAutocomplete:
		// Failures are logged by the router.
		_ = a.router.Handle(ctx, up)
	default:
		a.log.Trace("update ignored", logx.String("kind", string(up.Kind)))
	}
}
