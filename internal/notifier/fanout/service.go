package fanout

import (
	"context"
	"time"

	"confbot/internal/eventbus"
	logx "confbot/pkg/logx"

	"golang.org/x/time/rate"
)

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender:    sender,
		log:       log,
		bus:       bus,
		sleep:     sleepCtx,
		status:    map[string]*Report{},
		statusMax: defaultStatusMax,
		statusTTL: defaultStatusTTL,
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		s.limiter = nil
	}
}

func (s *Service) config() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause == 0 {
		cfg.BatchPause = DefaultBatchPause
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	return cfg, s.limiter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func (s *Service) publish(r Report) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeFanoutFinished, Data: r})
	}
}
