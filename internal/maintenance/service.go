// Package maintenance runs periodic housekeeping against the store: pruning
// stale recorded activities and clearing expired silences.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"joinme/internal/config"
	"joinme/internal/eventbus"
	logx "joinme/pkg/logx"
)

const jobTimeout = time.Minute

type Store interface {
	PruneRecordedActivities(ctx context.Context, before time.Time) (int64, error)
	ClearExpiredSilences(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Enabled              bool
	Location             *time.Location
	PruneSchedule        string
	ActivityRetention    time.Duration
	SilenceSweepSchedule string
}

// Result is published on the bus after every job run.
type Result struct {
	Job      string
	Affected int64
	Duration time.Duration
	Error    string
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context

	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

func New(cfg Config, store Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		log:   log.With(logx.String("comp", "maintenance")),
		bus:   bus,
		now:   time.Now,
	}
}

// Start registers the jobs and starts triggering. It is a no-op when
// disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	if _, err := c.AddFunc(s.cfg.PruneSchedule, func() { s.RunPrune(s.ctx) }); err != nil {
		return fmt.Errorf("prune schedule %q: %w", s.cfg.PruneSchedule, err)
	}
	if _, err := c.AddFunc(s.cfg.SilenceSweepSchedule, func() { s.RunSweep(s.ctx) }); err != nil {
		return fmt.Errorf("silence sweep schedule %q: %w", s.cfg.SilenceSweepSchedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("service started",
		logx.String("tz", loc.String()),
		logx.String("prune", s.cfg.PruneSchedule),
		logx.String("sweep", s.cfg.SilenceSweepSchedule),
	)
	return nil
}

// Stop stops triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Apply swaps the configuration, restarting the scheduler when running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.c == nil {
		if cfg.Enabled && s.ctx != nil {
			return s.startLocked()
		}
		return nil
	}
	old := s.c
	s.c = nil
	old.Stop()
	if !cfg.Enabled {
		s.log.Info("service disabled")
		return nil
	}
	return s.startLocked()
}

// Running reports whether the scheduler is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// RunPrune deletes recorded activities not seen within the retention window.
func (s *Service) RunPrune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	retention := s.cfg.ActivityRetention
	s.mu.Unlock()
	if retention <= 0 {
		retention = config.DefaultActivityRetention
	}
	return s.run(ctx, "prune_activities", func(ctx context.Context, now time.Time) (int64, error) {
		return s.store.PruneRecordedActivities(ctx, now.Add(-retention))
	})
}

// RunSweep clears silences that already expired.
func (s *Service) RunSweep(ctx context.Context) (int64, error) {
	return s.run(ctx, "silence_sweep", func(ctx context.Context, now time.Time) (int64, error) {
		return s.store.ClearExpiredSilences(ctx, now)
	})
}

func (s *Service) run(ctx context.Context, job string, fn func(context.Context, time.Time) (int64, error)) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := s.now()
	n, err := fn(ctx, start)
	res := Result{Job: job, Affected: n, Duration: s.now().Sub(start)}
	if err != nil {
		res.Error = err.Error()
		s.log.Error("job failed", logx.String("job", job), logx.Err(err))
	} else {
		s.log.Info("job done", logx.String("job", job), logx.Int64("affected", n), logx.Duration("took", res.Duration))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.MaintenanceRan, Data: res})
	return n, err
}

// cronLogger adapts logx to cron's logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
