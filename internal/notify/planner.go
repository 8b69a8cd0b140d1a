package notify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"confbot/internal/domain"
	"confbot/internal/eventbus"
	"confbot/internal/notifier/fanout"
	"confbot/internal/task/scheduler"
	kit "confbot/internal/transport"
	logx "confbot/pkg/logx"
)

const DefaultLead = 5 * time.Minute

type Config struct {
	Lead       time.Duration
	JobTimeout time.Duration // 0 means jobs run without a deadline
}

// Substrate is the one-shot job scheduler the planner drives.
type Substrate interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) (string, error)
	RemoveAll() int
}

// SlotSource lists every slot ordered by (date, start_time).
type SlotSource interface {
	GetAllSlots(ctx context.Context) ([]domain.TimeSlot, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, name string, msgs []fanout.Message) fanout.Report
}

type Renderer interface {
	Starting(t domain.Talk, lead time.Duration) string
}

// Result summarizes one plan run.
type Result struct {
	Planned int // registered with the substrate
	Skipped int // trigger time already passed
	Removed int // jobs of the previous generation
}

type Planner struct {
	mu      sync.Mutex
	cfg     Config
	slots   SlotSource
	queries domain.SelectionQueries
	sched   Substrate
	out     Deliverer
	render  Renderer
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	jobs    []PlannedJob
	digest  uint64 // schedule the current generation was planned from
}

type Deps struct {
	Slots   SlotSource
	Queries domain.SelectionQueries
	Sched   Substrate
	Out     Deliverer
	Render  Renderer
	Log     logx.Logger
	Bus     eventbus.Bus
}

func New(cfg Config, d Deps) *Planner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	return &Planner{
		cfg:     cfg,
		slots:   d.Slots,
		queries: d.Queries,
		sched:   d.Sched,
		out:     d.Out,
		render:  d.Render,
		log:     d.Log,
		bus:     d.Bus,
		now:     time.Now,
	}
}

// Lead returns the configured lead time.
func (p *Planner) Lead() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Lead
}

// Apply swaps the configuration and reports whether the lead time changed
// (which requires a replan to take effect).
func (p *Planner) Apply(cfg Config) bool {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.cfg.Lead != cfg.Lead
	p.cfg = cfg
	return changed
}

// Replan discards every pending reminder and schedules a fresh set from the
// current schedule. Jobs whose trigger time already passed are skipped.
func (p *Planner) Replan(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots, err := p.slots.GetAllSlots(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load slots: %w", err)
	}
	plan := BuildPlan(slots, p.cfg.Lead)
	p.digest = slotDigest(slots)

	res := Result{Removed: p.sched.RemoveAll()}
	now := p.now()
	scheduled := make([]PlannedJob, 0, len(plan))
	var errs []error
	for _, job := range plan {
		if !job.At.After(now) {
			res.Skipped++
			continue
		}
		_, err := p.sched.AddOnce(job.Name, job.At, p.cfg.JobTimeout, p.action(job))
		switch {
		case errors.Is(err, scheduler.ErrPastTrigger):
			res.Skipped++
		case err != nil:
			errs = append(errs, fmt.Errorf("schedule %s: %w", job.Name, err))
		default:
			res.Planned++
			scheduled = append(scheduled, job)
		}
	}
	p.jobs = scheduled

	p.log.Info("notifications scheduled",
		logx.Int("planned", res.Planned),
		logx.Int("skipped", res.Skipped),
		logx.Int("removed", res.Removed),
		logx.Duration("lead", p.cfg.Lead),
	)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyPlanned, Data: eventbus.NotifyPlanned{
			Planned: res.Planned, Skipped: res.Skipped, Removed: res.Removed,
		}})
	}
	return res, errors.Join(errs...)
}

// Sync replans when the stored schedule differs from the one the current
// generation was planned from, which happens after edits made by another
// process. It reports whether a replan ran.
func (p *Planner) Sync(ctx context.Context) (bool, error) {
	slots, err := p.slots.GetAllSlots(ctx)
	if err != nil {
		return false, fmt.Errorf("load slots: %w", err)
	}
	p.mu.Lock()
	same := p.digest == slotDigest(slots)
	p.mu.Unlock()
	if same {
		return false, nil
	}
	p.log.Info("schedule changed outside this process; replanning")
	_, err = p.Replan(ctx)
	return true, err
}

// Watch runs Sync every interval until ctx ends.
func (p *Planner) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Sync(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("schedule sync failed", logx.Err(err))
			}
		}
	}
}

func slotDigest(slots []domain.TimeSlot) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	for _, s := range slots {
		put(s.ID)
		put(s.Start.Unix())
		put(s.End.Unix())
		_, _ = h.Write([]byte(s.Date))
	}
	return h.Sum64()
}

// Jobs returns the jobs of the current generation ordered by trigger time.
// Jobs that already fired are included until the next replan.
func (p *Planner) Jobs() []PlannedJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlannedJob(nil), p.jobs...)
}

func (p *Planner) action(job PlannedJob) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := p.Run(ctx, job)
		return err
	}
}

// Recipients resolves who a job notifies at this moment.
func (p *Planner) Recipients(ctx context.Context, job PlannedJob) ([]domain.Recipient, error) {
	if job.Kind == KindLocationCheck && job.Previous != nil {
		return p.queries.GetChangingUsers(ctx, job.Slot.ID, job.Previous.ID)
	}
	return p.queries.GetUsersThatSelected(ctx, job.Slot.ID)
}

// Run executes a reminder job: resolve recipients, render, deliver.
// Individual delivery failures are reported, not returned.
func (p *Planner) Run(ctx context.Context, job PlannedJob) (fanout.Report, error) {
	recipients, err := p.Recipients(ctx, job)
	if err != nil {
		return fanout.Report{}, fmt.Errorf("%s recipients: %w", job.Name, err)
	}
	p.log.Info("notifying users",
		logx.String("job", job.Name),
		logx.String("kind", string(job.Kind)),
		logx.Int("recipients", len(recipients)),
	)
	msgs := make([]fanout.Message, 0, len(recipients))
	for _, r := range recipients {
		msgs = append(msgs, fanout.Message{
			To:   kit.ChatTarget{ChatID: r.AttendeeID},
			Text: p.render.Starting(r.Talk, job.Lead),
		})
	}
	return p.out.Deliver(ctx, job.Name, msgs), nil
}
