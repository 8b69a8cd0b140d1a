package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"confbot/internal/domain"
	"confbot/internal/eventbus"
	"confbot/internal/notifier/fanout"
	"confbot/internal/notify"
	"confbot/internal/storage"
	"confbot/internal/view"
	logx "confbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

const day = "2025-06-10"

func clock(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+hhmm)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

var (
	k1 = domain.NewSlotKey(day, clock("09:00"), clock("10:00"))
	k2 = domain.NewSlotKey(day, clock("10:00"), clock("11:00"))
)

type countingPlanner struct {
	calls int
	err   error
}

func (p *countingPlanner) Replan(context.Context) (notify.Result, error) {
	p.calls++
	return notify.Result{Planned: 1}, p.err
}

type recordingOut struct {
	mu    sync.Mutex
	calls int
	msgs  []fanout.Message
}

func (o *recordingOut) Deliver(_ context.Context, name string, msgs []fanout.Message) fanout.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.msgs = append(o.msgs, msgs...)
	return fanout.Report{Name: name, Total: len(msgs), Sent: len(msgs)}
}

func (o *recordingOut) textFor(id int64) []string {
	var out []string
	for _, m := range o.msgs {
		if m.To.ChatID == id {
			out = append(out, m.Text)
		}
	}
	return out
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func initial() []domain.Edit {
	return []domain.Edit{
		{Slot: k1, Location: "A", Title: "Talk1", Speaker: "S1"},
		{Slot: k1, Location: "B", Title: "Talk2", Speaker: "S2"},
		{Slot: k2, Location: "A", Title: "Talk3", Speaker: "S3"},
	}
}

func TestApplyDeletionAndUpsertScenario(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	bootstrap := New(st, nil, nil, view.New(time.UTC), logx.Nop(), nil)
	first, err := bootstrap.Apply(ctx, "test", initial())
	require.NoError(t, err)
	require.Equal(t, domain.UpsertStats{Inserted: 3}, first.Stats)
	slot1, slot2 := first.Slots[0].ID, first.Slots[1].ID

	_, talks, err := st.GetInTimeSlot(ctx, slot1)
	require.NoError(t, err)
	talkA, talkB := talks[0].ID, talks[1].ID
	require.NoError(t, st.SaveSelection(ctx, 42, slot1, &talkA))
	require.NoError(t, st.SaveSelection(ctx, 43, slot1, &talkB))
	require.NoError(t, st.SaveSelection(ctx, 44, slot1, &talkB))
	require.NoError(t, st.SaveNotificationSetting(ctx, 44, false))
	_, talks, err = st.GetInTimeSlot(ctx, slot2)
	require.NoError(t, err)
	require.NoError(t, st.SaveSelection(ctx, 45, slot2, &talks[0].ID))

	planner := &countingPlanner{}
	out := &recordingOut{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	r := New(st, planner, out, view.New(time.UTC), logx.Nop(), bus)

	res, err := r.Apply(ctx, "upload.csv", []domain.Edit{
		{Slot: k1, Location: "B", Delete: true},
		{Slot: k1, Location: "A", Title: "Talk1 (new)", Speaker: "S1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
	require.Equal(t, domain.UpsertStats{Updated: 1}, res.Stats)
	require.Equal(t, []domain.TimeSlot{first.Slots[0]}, res.Slots)
	require.Equal(t, 1, planner.calls)
	require.Equal(t, 1, out.calls)

	// 42 and 43 selected in slot1 (43's talk is gone); 44 opted out; 45 untouched.
	require.Len(t, out.msgs, 2)
	for _, id := range []int64{42, 43} {
		texts := out.textFor(id)
		require.Len(t, texts, 1)
		require.Contains(t, texts[0], "10.06 09:00 - 10:00")
	}
	require.Empty(t, out.textFor(44))
	require.Empty(t, out.textFor(45))

	// The dangling selection stays until the attendee chooses again.
	pairs, err := st.GetUserIDsThatSelected(ctx, []int64{slot1})
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	_, talks, err = st.GetInTimeSlot(ctx, slot1)
	require.NoError(t, err)
	require.Len(t, talks, 1)
	require.Equal(t, talkA, talks[0].ID)
	require.Equal(t, "Talk1 (new)", talks[0].Title)

	e := <-events
	require.Equal(t, eventbus.TypeScheduleChanged, e.Type)
	require.Equal(t, []int64{slot1}, e.Data.(eventbus.ScheduleChanged).SlotIDs)
}

func TestChangeNoticeListsAllTouchedSlotsOnce(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	first, err := New(st, nil, nil, view.New(time.UTC), logx.Nop(), nil).Apply(ctx, "seed", initial())
	require.NoError(t, err)

	for _, s := range first.Slots {
		_, talks, err := st.GetInTimeSlot(ctx, s.ID)
		require.NoError(t, err)
		require.NoError(t, st.SaveSelection(ctx, 42, s.ID, &talks[0].ID))
	}

	out := &recordingOut{}
	r := New(st, &countingPlanner{}, out, view.New(time.UTC), logx.Nop(), nil)
	_, err = r.Apply(ctx, "edit", []domain.Edit{
		{Slot: k2, Location: "A", Title: "Talk3", Speaker: "Someone else"},
		{Slot: k1, Location: "C", Title: "New room", Speaker: "S9"},
	})
	require.NoError(t, err)
	require.Len(t, out.msgs, 1)
	text := out.msgs[0].Text
	require.Less(t, strings.Index(text, "09:00 - 10:00"), strings.Index(text, "10:00 - 11:00"))
}

type failingStore struct {
	err error
}

func (f failingStore) EditSchedule(context.Context, func(domain.ScheduleWriter) error) error {
	return f.err
}

func (failingStore) GetAllSlots(context.Context) ([]domain.TimeSlot, error) {
	panic("must not be called")
}

func (failingStore) GetUserIDsThatSelected(context.Context, []int64) ([]domain.SlotSelection, error) {
	panic("must not be called")
}

func (failingStore) GetNotificationSetting(context.Context, int64) (*bool, error) {
	panic("must not be called")
}

func TestIntegrityErrorAbortsEverything(t *testing.T) {
	ie := &domain.IntegrityError{Op: "insert talk", Constraint: "talks.time_slot_id, talks.location", Err: errors.New("UNIQUE")}
	planner := &countingPlanner{}
	out := &recordingOut{}
	r := New(failingStore{err: ie}, planner, out, view.New(time.UTC), logx.Nop(), nil)

	_, err := r.Apply(context.Background(), "upload.csv", initial())
	require.Error(t, err)
	require.True(t, domain.IsIntegrity(err))
	var got *domain.IntegrityError
	require.True(t, errors.As(err, &got))
	require.Equal(t, "talks.time_slot_id, talks.location", got.Constraint)
	require.Zero(t, planner.calls)
	require.Zero(t, out.calls)
}

func TestSideEffectErrorsAreJoined(t *testing.T) {
	st := openStore(t)
	planner := &countingPlanner{err: errors.New("scheduler stopped")}
	out := &recordingOut{}
	r := New(st, planner, out, view.New(time.UTC), logx.Nop(), nil)

	res, err := r.Apply(context.Background(), "edit", initial())
	require.ErrorContains(t, err, "scheduler stopped")
	require.Equal(t, 3, res.Stats.Inserted)
	require.Equal(t, 1, out.calls, "broadcast still attempted")

	slots, err := st.GetAllSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 2)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	planner := &countingPlanner{}
	r := New(failingStore{}, planner, &recordingOut{}, view.New(time.UTC), logx.Nop(), nil)
	_, err := r.Apply(context.Background(), "edit", nil)
	require.NoError(t, err)
	require.Zero(t, planner.calls)
}

// pacedOut sends one message per tick and stops when ctx ends.
type pacedOut struct {
	tick time.Duration
	mu   sync.Mutex
	sent []int64
}

func (o *pacedOut) Deliver(ctx context.Context, name string, msgs []fanout.Message) fanout.Report {
	rep := fanout.Report{Name: name, Total: len(msgs)}
	for _, m := range msgs {
		select {
		case <-ctx.Done():
			rep.Cancelled = true
			return rep
		case <-time.After(o.tick):
		}
		o.mu.Lock()
		o.sent = append(o.sent, m.To.ChatID)
		o.mu.Unlock()
		rep.Sent++
	}
	return rep
}

func seedAttendees(t *testing.T, st *storage.Store, n int) {
	t.Helper()
	ctx := context.Background()
	first, err := New(st, nil, nil, view.New(time.UTC), logx.Nop(), nil).Apply(ctx, "seed", initial())
	require.NoError(t, err)
	_, talks, err := st.GetInTimeSlot(ctx, first.Slots[0].ID)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, st.SaveSelection(ctx, int64(100+i), first.Slots[0].ID, &talks[0].ID))
	}
}

func TestInlineDeliveryCutShortIsAnError(t *testing.T) {
	st := openStore(t)
	seedAttendees(t, st, 10)
	out := &pacedOut{tick: 20 * time.Millisecond}
	r := New(st, &countingPlanner{}, out, view.New(time.UTC), logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	res, err := r.Apply(ctx, "edit", []domain.Edit{{Slot: k1, Location: "A", Title: "Renamed", Speaker: "S1"}})
	require.ErrorContains(t, err, "delivery cancelled")
	require.NotNil(t, res.Slots, "edit stays committed")
	require.Equal(t, 10, res.Recipients)
	require.True(t, res.Notified.Cancelled)
	require.Less(t, res.Notified.Sent, 10)
}

func TestRunnerDeliveryOutlivesRequest(t *testing.T) {
	st := openStore(t)
	seedAttendees(t, st, 10)
	out := &pacedOut{tick: time.Millisecond}
	r := New(st, &countingPlanner{}, out, view.New(time.UTC), logx.Nop(), nil)

	started := make(chan func(context.Context), 1)
	r.SetRunner(func(name string, fn func(context.Context)) {
		require.Equal(t, "reconcile.broadcast", name)
		started <- fn
	})

	ctx, cancel := context.WithCancel(context.Background())
	res, err := r.Apply(ctx, "edit", []domain.Edit{{Slot: k1, Location: "A", Title: "Renamed", Speaker: "S1"}})
	cancel()
	require.NoError(t, err)
	require.Equal(t, 10, res.Recipients)
	require.Zero(t, res.Notified.Total)

	fn := <-started
	fn(context.Background())
	require.Len(t, out.sent, 10)
}

func TestAffectedCountsExistingSelections(t *testing.T) {
	st := openStore(t)
	seedAttendees(t, st, 3)
	r := New(st, nil, nil, view.New(time.UTC), logx.Nop(), nil)

	n, err := r.Affected(context.Background(), []domain.Edit{{Slot: k1, Location: "C", Title: "New", Speaker: "S"}})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	fresh := domain.NewSlotKey("2025-06-11", clock("09:00").AddDate(0, 0, 1), clock("10:00").AddDate(0, 0, 1))
	n, err = r.Affected(context.Background(), []domain.Edit{{Slot: k2, Location: "A", Delete: true}, {Slot: fresh, Location: "A", Title: "X", Speaker: "Y"}})
	require.NoError(t, err)
	require.Zero(t, n)
}
