package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"confbot/internal/eventbus"
	logx "confbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// AddOnce registers job to run once at at, replacing any job with the same
// name. It returns ErrPastTrigger when at is not after the current time, so
// missed triggers are never executed retroactively.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !at.After(s.now()) {
		return "", fmt.Errorf("%s at %s: %w", name, at.Format(time.RFC3339), ErrPastTrigger)
	}
	s.removeLocked(name)

	s.seq++
	d := &onceDef{
		id:      fmt.Sprintf("once:%d", s.seq),
		name:    name,
		at:      at,
		timeout: timeout,
		job:     job,
	}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("job registered", logx.String("name", name), logx.String("id", d.id), logx.Time("at", at), logx.Duration("timeout", timeout))
	return name, nil
}

// Remove unschedules the job with the given name. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("job removed", logx.String("name", name))
	}
	return removed
}

// RemoveAll unschedules every pending job and returns how many were removed.
// Runs already in progress are not interrupted.
func (s *Service) RemoveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.defs)
	for name := range s.defs {
		s.removeLocked(name)
	}
	if n > 0 {
		s.log.Debug("jobs removed", logx.Int("count", n))
	}
	return n
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// registerLocked adds d to the running cron. Call with s.mu held.
func (s *Service) registerLocked(d *onceDef) {
	d.entryID = s.c.Schedule(onceSchedule{at: d.at}, cron.FuncJob(func() { s.fire(d) }))
}

func (s *Service) fire(d *onceDef) {
	s.mu.Lock()
	cur, ok := s.defs[d.name]
	if !ok || cur != d {
		// Replaced or removed after cron picked it up.
		s.mu.Unlock()
		return
	}
	delete(s.defs, d.name)
	base := s.base
	size := s.cfg.HistorySize
	s.mu.Unlock()

	if base == nil {
		base = context.Background()
	}
	ctx := base
	cancel := func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	started := time.Now()
	err := d.job(ctx)
	item := HistoryItem{ID: d.id, Name: d.name, Started: started, Duration: time.Since(started)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", item.Duration), logx.Err(err))
	} else {
		s.log.Debug("job finished", logx.String("name", d.name), logx.Duration("took", item.Duration))
	}
	s.record(item, size)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFinished, Data: item})
	}
}

func (s *Service) record(it HistoryItem, size int) {
	if size <= 0 {
		size = defaultHistorySize
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - size; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}
