package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"joinme/internal/eventbus"
	"joinme/internal/transport"
	logx "joinme/pkg/logx"
)

var (
	ErrDisabled = fmt.Errorf("notifier disabled: %w", transport.ErrNotSent)
	ErrNoTarget = errors.New("notifier: empty channel id")
)

// Service sends trigger messages through an adapter.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	adapter transport.Adapter
	cfg     Config
	limiter *rate.Limiter

	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		now:     time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the configuration. In-flight sends keep the old limiter.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so one presence update fanning out
	// to a few channels is not serialized.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text to channelID. It waits for a rate-limit token and then
// for at most the configured send timeout.
func (s *Service) Send(ctx context.Context, channelID, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg, limiter, adapter := s.cfg, s.limiter, s.adapter
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if channelID == "" {
		return ErrNoTarget
	}
	if adapter == nil {
		return transport.ErrNotConnected
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	start := s.now()
	ref, err := adapter.SendText(sendCtx, channelID, text, &transport.SendOptions{AllowRoleMentions: true})
	took := s.now().Sub(start)

	item := HistoryItem{At: start, ChannelID: channelID, MessageID: ref.MessageID, Text: text}
	ev := SendEvent{ChannelID: channelID, MessageID: ref.MessageID, Duration: took}
	if err != nil {
		item.Err, ev.Error = err.Error(), err.Error()
		s.appendHistory(item, cfg.HistorySize)
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Data: ev})
		s.log.Warn("send failed", logx.String("channel_id", channelID), logx.Duration("took", took), logx.Err(err))
		return fmt.Errorf("send to %s: %w", channelID, err)
	}
	s.appendHistory(item, cfg.HistorySize)
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Data: ev})
	s.log.Debug("sent", logx.String("channel_id", channelID), logx.String("message_id", ref.MessageID), logx.Duration("took", took))
	return nil
}

// Snapshot returns the recorded history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
