package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"joinme/internal/commands"
	"joinme/internal/config"
	"joinme/internal/diag"
	"joinme/internal/eventbus"
	"joinme/internal/maintenance"
	"joinme/internal/notifier"
	rtsup "joinme/internal/runtime/supervisor"
	"joinme/internal/storage"
	"joinme/internal/transport"
	"joinme/internal/transport/discord"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sd   *sdNotifier

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter transport.Adapter

	notif    *notifier.Service
	ingestor *trigger.Ingestor
	triggers *trigger.Service
	router   *commands.Router
	maint    *maintenance.Service
	diag     *diag.Server

	workers int
	updates chan transport.Update
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
}

// WithAdapter replaces the Discord adapter, e.g. with a fake in tests.
func WithAdapter(a transport.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetOverlay(config.ApplyEnv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole(cfg.Logging.Level)
		d, err := discord.New(mapDiscordConfig(cfg), bootLog)
		if err != nil {
			return nil, err
		}
		ad = d
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(res), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("path", res.StoragePath))

	notif := notifier.New(mapNotifierConfig(res), ad, log, bus)
	ingestor := trigger.NewIngestor(trigger.Deps{
		Store:          store,
		Dispatcher:     notif,
		DebounceWindow: res.DebounceWindow,
		Bus:            bus,
		Log:            log,
	})
	triggers := trigger.NewService(store, ingestor.Silence(), nil, log)

	history, _ := ad.(transport.MessageHistory)
	router := commands.New(commands.Deps{
		Service:   triggers,
		History:   history,
		Responder: ad,
		Log:       log,
	})

	maint := maintenance.New(mapMaintenanceConfig(cfg, res), store, log, bus)

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		sd:       newSDNotifier(cfg.Systemd.Notify, cfg.Systemd.Watchdog, log),
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		notif:    notif,
		ingestor: ingestor,
		triggers: triggers,
		router:   router,
		maint:    maint,
		workers:  res.Workers,
		updates:  make(chan transport.Update, res.QueueSize),
	}
	a.diag = diag.New(mapDiagConfig(cfg, res), diag.Probes{Health: store.Ping, Stats: a.stats}, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.startWorkers()

	if a.cfgm.Get().Discord.RegisterCommands {
		if reg, ok := a.adapter.(transport.CommandRegistrar); ok {
			a.sup.Go0("commands.register", func(c context.Context) { a.registerCommands(c, reg) })
		} else {
			a.log.Warn("adapter cannot register commands; skipping")
		}
	}

	if err := a.maint.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if err := a.diag.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}

	// Debug-level mirror of the bus for tracing.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.RunWatchdog(c, a.store.Ping)
	})
	a.sd.Ready()

	a.log.Info("app started", logx.Int("workers", a.workers), logx.Int("queue_size", cap(a.updates)))
	return nil
}

func (a *App) registerCommands(ctx context.Context, reg transport.CommandRegistrar) {
	// The application id may only be known once the gateway is ready.
	const attempts = 5
	for i := 1; ; i++ {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := a.router.Register(rctx, reg)
		cancel()
		if err == nil {
			return
		}
		if i == attempts || ctx.Err() != nil {
			a.log.Error("command registration failed", logx.Int("attempts", i), logx.Err(err))
			return
		}
		a.log.Debug("command registration retry", logx.Int("attempt", i), logx.Err(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(i) * 2 * time.Second):
		}
	}
}

// applyConfig pushes a reloaded config into every live-reconfigurable
// component. Sections that need a restart are only reported.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	res, err := config.Resolve(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.ingestor.Silence().SetWindow(res.DebounceWindow)
	a.notif.Apply(mapNotifierConfig(res))
	if err := a.maint.Apply(mapMaintenanceConfig(newCfg, res)); err != nil {
		a.log.Warn("maintenance reconfigure failed", logx.Err(err))
	}
	if a.sup != nil {
		if err := a.diag.Reconfigure(a.sup.Context(), mapDiagConfig(newCfg, res)); err != nil {
			a.log.Warn("diagnostics reconfigure failed", logx.Err(err))
		}
	}
	if restart {
		a.log.Warn("some config changes need a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Workers finish their current update before the store goes away.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Snapshot is the JSON body of the diagnostics /stats endpoint.
type Snapshot struct {
	Storage     storage.Stats          `json:"storage"`
	Supervisor  rtsup.Counters         `json:"supervisor"`
	QueueLen    int                    `json:"queue_len"`
	QueueCap    int                    `json:"queue_cap"`
	Notifier    []notifier.HistoryItem `json:"notifier_recent"`
	Maintenance bool                   `json:"maintenance_running"`
	Debounce    string                 `json:"debounce_window"`
}

func (a *App) stats(ctx context.Context) (any, error) {
	st, err := a.store.Stats(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	snap := Snapshot{
		Storage:     st,
		QueueLen:    len(a.updates),
		QueueCap:    cap(a.updates),
		Maintenance: a.maint.Running(),
		Debounce:    a.ingestor.Silence().Window().String(),
	}
	if a.sup != nil {
		snap.Supervisor = a.sup.Counters()
	}
	hist := a.notif.Snapshot()
	if n := len(hist); n > 10 {
		hist = hist[n-10:]
	}
	snap.Notifier = hist
	return snap, nil
}
