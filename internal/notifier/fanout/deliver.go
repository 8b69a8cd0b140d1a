package fanout

import (
	"context"
	"errors"
	"time"

	kit "confbot/internal/transport"
	logx "confbot/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxFailuresKept = 200

var defaultOpt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Deliver sends every message and returns when all were attempted or ctx ended.
// A failing recipient never stops the batch.
func (s *Service) Deliver(ctx context.Context, name string, msgs []Message) Report {
	cfg, lim := s.config()
	now := time.Now()
	s.pruneStatus(now)

	rep := &Report{ID: uuid.NewString(), Name: name, Total: len(msgs), Started: now}
	s.statusMu.Lock()
	s.status[rep.ID] = rep
	s.statusMu.Unlock()

	log := s.log.With(logx.String("job", rep.ID), logx.String("name", name))
	if len(msgs) > 0 {
		log.Info("fan-out started", logx.Int("total", len(msgs)), logx.Int("batch", cfg.BatchSize))
	}

	for i, m := range msgs {
		if i > 0 && i%cfg.BatchSize == 0 {
			if err := s.sleep(ctx, cfg.BatchPause); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		err := s.sendOne(ctx, log, cfg, lim, m)
		s.statusMu.Lock()
		if err != nil {
			rep.Failed++
			if len(rep.Failures) < maxFailuresKept {
				rep.Failures = append(rep.Failures, m.To.ChatID)
			}
		} else {
			rep.Sent++
		}
		s.statusMu.Unlock()
	}

	s.statusMu.Lock()
	rep.Finished = time.Now()
	rep.Cancelled = rep.Sent+rep.Failed < rep.Total
	out := *rep
	out.Failures = append([]int64(nil), rep.Failures...)
	s.statusMu.Unlock()

	fields := []logx.Field{
		logx.Int("total", out.Total),
		logx.Int("sent", out.Sent),
		logx.Int("failed", out.Failed),
		logx.Duration("dur", out.Finished.Sub(out.Started)),
	}
	switch {
	case out.Cancelled:
		log.Warn("fan-out cancelled", fields...)
	case out.Failed > 0:
		log.Warn("fan-out finished with failures", fields...)
	case out.Total > 0:
		log.Info("fan-out finished", fields...)
	}
	s.publish(out)
	return out
}

func (s *Service) sendOne(ctx context.Context, log logx.Logger, cfg Config, lim *rate.Limiter, m Message) error {
	opt := m.Opt
	if opt == nil {
		opt = defaultOpt
	}
	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		_, err := s.sender.SendText(ctx, m.To, m.Text, opt)
		if err == nil {
			return nil
		}
		last = err
		if i == cfg.RetryMax || errors.Is(err, context.Canceled) {
			break
		}
		delay := cfg.RetryBase * time.Duration(i+1)
		log.Debug("send retry scheduled", logx.Int64("chat_id", m.To.ChatID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	log.Warn("send failed", logx.Int64("chat_id", m.To.ChatID), logx.Int("thread_id", m.To.ThreadID), logx.Err(last))
	return last
}

// Status returns the report of a delivery by id.
func (s *Service) Status(id string) (Report, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	r, ok := s.status[id]
	if !ok || r == nil {
		return Report{}, false
	}
	cp := *r
	cp.Failures = append([]int64(nil), r.Failures...)
	return cp, true
}
