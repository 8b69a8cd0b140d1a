// Package reconcile applies administrative schedule edits and triggers the
// follow-up work: a full reminder replan and a "schedule changed" notice to
// every attendee with a selection in a touched slot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"confbot/internal/domain"
	"confbot/internal/eventbus"
	"confbot/internal/notifier/fanout"
	"confbot/internal/notify"
	kit "confbot/internal/transport"
	logx "confbot/pkg/logx"
)

type Store interface {
	domain.ScheduleEditor
	GetAllSlots(ctx context.Context) ([]domain.TimeSlot, error)
	GetUserIDsThatSelected(ctx context.Context, slotIDs []int64) ([]domain.SlotSelection, error)
	GetNotificationSetting(ctx context.Context, userID int64) (*bool, error)
}

type Replanner interface {
	Replan(ctx context.Context) (notify.Result, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, name string, msgs []fanout.Message) fanout.Report
}

type Renderer interface {
	Changed(slots []domain.TimeSlot) string
}

// Outcome describes what one Apply did.
type Outcome struct {
	Slots   []domain.TimeSlot // every slot referenced by the batch
	Deleted int
	Stats   domain.UpsertStats
	Plan    notify.Result
	// Recipients is the number of change notices composed. Notified is only
	// filled when delivery ran inline; with a Runner it completes later.
	Recipients int
	Notified   fanout.Report
}

// Runner starts fn outside the caller's lifetime. The app passes its
// supervisor so change notices outlive the request that caused them.
type Runner func(name string, fn func(ctx context.Context))

type Reconciler struct {
	store   Store
	planner Replanner
	out     Deliverer
	render  Renderer
	log     logx.Logger
	bus     eventbus.Bus
	run     Runner
}

// New builds a reconciler. planner and out may be nil (offline imports), in
// which case the matching side effect is skipped.
func New(store Store, planner Replanner, out Deliverer, render Renderer, log logx.Logger, bus eventbus.Bus) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, planner: planner, out: out, render: render, log: log, bus: bus}
}

// SetRunner moves change notice delivery off the caller's context. Call it
// before the first Apply.
func (r *Reconciler) SetRunner(run Runner) { r.run = run }

// Apply runs the batch in one transaction. A failing batch (for example an
// integrity violation) changes nothing and triggers nothing. After a commit
// both side effects are attempted; their errors are returned joined while
// the schedule change itself stays committed.
func (r *Reconciler) Apply(ctx context.Context, source string, edits []domain.Edit) (Outcome, error) {
	var out Outcome
	if len(edits) == 0 {
		return out, nil
	}

	keys := slotKeys(edits)
	var mapping map[domain.SlotKey]int64
	err := r.store.EditSchedule(ctx, func(w domain.ScheduleWriter) error {
		var err error
		mapping, err = w.FindOrCreateSlots(ctx, keys)
		if err != nil {
			return err
		}
		var (
			dels   []domain.TalkKey
			drafts []domain.TalkDraft
		)
		for _, e := range edits {
			if e.Delete {
				dels = append(dels, domain.TalkKey{SlotID: mapping[e.Slot], Location: e.Location})
			} else {
				drafts = append(drafts, e.Draft())
			}
		}
		if len(dels) > 0 {
			if out.Deleted, err = w.DeleteTalks(ctx, dels); err != nil {
				return err
			}
		}
		if len(drafts) > 0 {
			if out.Stats, err = w.UpsertTalks(ctx, drafts, mapping); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Warn("schedule edit rolled back", logx.String("source", source), logx.Int("rows", len(edits)), logx.Err(err))
		return Outcome{}, fmt.Errorf("apply schedule edit: %w", err)
	}

	out.Slots = make([]domain.TimeSlot, 0, len(keys))
	for _, k := range keys {
		out.Slots = append(out.Slots, k.Slot(mapping[k]))
	}
	r.log.Info("schedule updated",
		logx.String("source", source),
		logx.Int("slots", len(out.Slots)),
		logx.Int("deleted", out.Deleted),
		logx.Int("inserted", out.Stats.Inserted),
		logx.Int("updated", out.Stats.Updated),
		logx.Int("unchanged", out.Stats.Unchanged),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleChanged, Data: eventbus.ScheduleChanged{
			Source:    source,
			SlotIDs:   slotIDs(out.Slots),
			Deleted:   out.Deleted,
			Inserted:  out.Stats.Inserted,
			Updated:   out.Stats.Updated,
			Unchanged: out.Stats.Unchanged,
		}})
	}

	var errs []error
	if r.planner != nil {
		if out.Plan, err = r.planner.Replan(ctx); err != nil {
			errs = append(errs, fmt.Errorf("replan: %w", err))
		}
	}
	if r.out != nil {
		if err := r.broadcast(ctx, source, &out); err != nil {
			errs = append(errs, fmt.Errorf("broadcast change: %w", err))
		}
	}
	return out, errors.Join(errs...)
}

// broadcast resolves recipients under ctx and then delivers, inline or via
// the runner.
func (r *Reconciler) broadcast(ctx context.Context, source string, out *Outcome) error {
	msgs, err := r.changeNotices(ctx, out.Slots)
	if err != nil {
		return err
	}
	out.Recipients = len(msgs)
	if r.run != nil && len(msgs) > 0 {
		r.run("reconcile.broadcast", func(c context.Context) {
			if err := cancelled(r.out.Deliver(c, "schedule.changed", msgs)); err != nil {
				r.log.Warn("change notice incomplete", logx.String("source", source), logx.Err(err))
			}
		})
		return nil
	}
	out.Notified = r.out.Deliver(ctx, "schedule.changed", msgs)
	return cancelled(out.Notified)
}

func cancelled(rep fanout.Report) error {
	if !rep.Cancelled {
		return nil
	}
	return fmt.Errorf("delivery cancelled after %d of %d recipients", rep.Sent+rep.Failed, rep.Total)
}

// changeNotices builds one message per opted-in attendee listing their
// touched slots.
func (r *Reconciler) changeNotices(ctx context.Context, slots []domain.TimeSlot) ([]fanout.Message, error) {
	byID := make(map[int64]domain.TimeSlot, len(slots))
	for _, s := range slots {
		byID[s.ID] = s
	}
	pairs, err := r.store.GetUserIDsThatSelected(ctx, slotIDs(slots))
	if err != nil {
		return nil, err
	}

	var msgs []fanout.Message
	for i := 0; i < len(pairs); {
		attendee := pairs[i].AttendeeID
		var touched []domain.TimeSlot
		for ; i < len(pairs) && pairs[i].AttendeeID == attendee; i++ {
			touched = append(touched, byID[pairs[i].SlotID])
		}
		enabled, err := r.store.GetNotificationSetting(ctx, attendee)
		if err != nil {
			return nil, err
		}
		if enabled != nil && !*enabled {
			continue
		}
		sortSlots(touched)
		msgs = append(msgs, fanout.Message{
			To:   kit.ChatTarget{ChatID: attendee},
			Text: r.render.Changed(touched),
		})
	}
	return msgs, nil
}

// Affected counts the distinct attendees holding a selection in an existing
// slot the batch touches. It writes nothing.
func (r *Reconciler) Affected(ctx context.Context, edits []domain.Edit) (int, error) {
	want := make(map[domain.SlotKey]struct{}, len(edits))
	for _, k := range slotKeys(edits) {
		want[k] = struct{}{}
	}
	all, err := r.store.GetAllSlots(ctx)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for _, s := range all {
		if _, ok := want[s.Key()]; ok {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pairs, err := r.store.GetUserIDsThatSelected(ctx, ids)
	if err != nil {
		return 0, err
	}
	seen := make(map[int64]struct{}, len(pairs))
	for _, p := range pairs {
		seen[p.AttendeeID] = struct{}{}
	}
	return len(seen), nil
}

// slotKeys returns the distinct slot keys of the batch in first-seen order.
func slotKeys(edits []domain.Edit) []domain.SlotKey {
	seen := make(map[domain.SlotKey]struct{}, len(edits))
	out := make([]domain.SlotKey, 0, len(edits))
	for _, e := range edits {
		if _, ok := seen[e.Slot]; ok {
			continue
		}
		seen[e.Slot] = struct{}{}
		out = append(out, e.Slot)
	}
	return out
}

func slotIDs(slots []domain.TimeSlot) []int64 {
	out := make([]int64, len(slots))
	for i, s := range slots {
		out[i] = s.ID
	}
	return out
}

func sortSlots(s []domain.TimeSlot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Date != s[j].Date {
			return s[i].Date < s[j].Date
		}
		return s[i].Start.Before(s[j].Start)
	})
}
