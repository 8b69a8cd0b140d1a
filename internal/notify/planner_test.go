package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"confbot/internal/domain"
	"confbot/internal/notifier/fanout"
	"confbot/internal/storage"
	"confbot/internal/task/scheduler"
	"confbot/internal/view"
	logx "confbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeSubstrate struct {
	mu   sync.Mutex
	jobs map[string]scheduler.Job
	at   map[string]time.Time
	now  time.Time
}

func newFakeSubstrate(now time.Time) *fakeSubstrate {
	return &fakeSubstrate{jobs: map[string]scheduler.Job{}, at: map[string]time.Time{}, now: now}
}

func (f *fakeSubstrate) AddOnce(name string, at time.Time, _ time.Duration, job scheduler.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !at.After(f.now) {
		return "", scheduler.ErrPastTrigger
	}
	f.jobs[name] = job
	f.at[name] = at
	return name, nil
}

func (f *fakeSubstrate) RemoveAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.jobs)
	f.jobs = map[string]scheduler.Job{}
	f.at = map[string]time.Time{}
	return n
}

func (f *fakeSubstrate) fire(t *testing.T, name string) {
	t.Helper()
	f.mu.Lock()
	job, ok := f.jobs[name]
	f.mu.Unlock()
	require.True(t, ok, "job %s not scheduled", name)
	require.NoError(t, job(context.Background()))
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (f *fakeDeliverer) Deliver(_ context.Context, name string, msgs []fanout.Message) fanout.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	for _, m := range msgs {
		f.sent[m.To.ChatID] = append(f.sent[m.To.ChatID], m.Text)
	}
	return fanout.Report{Name: name, Total: len(msgs), Sent: len(msgs)}
}

func (f *fakeDeliverer) recipients() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.sent))
	for id := range f.sent {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

const day = "2025-06-10"

func clock(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+hhmm)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

type scenario struct {
	store        *storage.Store
	slot1, slot2 int64
	talk1, talk2 int64
	talk3        int64
}

// newScenario builds day 1: slot1 09:00-10:00 (A Talk1, B Talk2), slot2 10:00-11:00 (A Talk3).
func newScenario(t *testing.T) scenario {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	k1 := domain.NewSlotKey(day, clock("09:00"), clock("10:00"))
	k2 := domain.NewSlotKey(day, clock("10:00"), clock("11:00"))
	var slots map[domain.SlotKey]int64
	err = st.EditSchedule(ctx, func(w domain.ScheduleWriter) error {
		slots, err = w.FindOrCreateSlots(ctx, []domain.SlotKey{k1, k2})
		if err != nil {
			return err
		}
		_, err = w.UpsertTalks(ctx, []domain.TalkDraft{
			{Slot: k1, Location: "A", Title: "Talk1", Speaker: "S1"},
			{Slot: k1, Location: "B", Title: "Talk2", Speaker: "S2"},
			{Slot: k2, Location: "A", Title: "Talk3", Speaker: "S3"},
		}, slots)
		return err
	})
	require.NoError(t, err)

	sc := scenario{store: st, slot1: slots[k1], slot2: slots[k2]}
	_, talks, err := st.GetInTimeSlot(ctx, sc.slot1)
	require.NoError(t, err)
	sc.talk1, sc.talk2 = talks[0].ID, talks[1].ID
	_, talks, err = st.GetInTimeSlot(ctx, sc.slot2)
	require.NoError(t, err)
	sc.talk3 = talks[0].ID
	return sc
}

func (sc scenario) selectTalk(t *testing.T, attendee, slot, talk int64) {
	t.Helper()
	require.NoError(t, sc.store.SaveSelection(context.Background(), attendee, slot, &talk))
}

func newPlanner(sc scenario, sub Substrate, out Deliverer, now time.Time) *Planner {
	p := New(Config{Lead: 5 * time.Minute}, Deps{
		Slots:   sc.store,
		Queries: sc.store,
		Sched:   sub,
		Out:     out,
		Render:  view.New(time.UTC),
	})
	p.now = func() time.Time { return now }
	return p
}

func TestLocationCheckScenario(t *testing.T) {
	sc := newScenario(t)
	sc.selectTalk(t, 42, sc.slot1, sc.talk1) // A
	sc.selectTalk(t, 42, sc.slot2, sc.talk3) // A
	sc.selectTalk(t, 43, sc.slot1, sc.talk2) // B
	sc.selectTalk(t, 43, sc.slot2, sc.talk3) // A

	now := clock("08:00")
	sub := newFakeSubstrate(now)
	out := &fakeDeliverer{}
	p := newPlanner(sc, sub, out, now)

	res, err := p.Replan(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Planned: 2}, res)
	require.Equal(t, clock("09:55"), sub.at[JobName(sc.slot2)])

	sub.fire(t, JobName(sc.slot2))
	require.Equal(t, []int64{43}, out.recipients())
	require.Contains(t, out.sent[43][0], "Talk3")
	require.Contains(t, out.sent[43][0], "<b>A</b>")
	require.Contains(t, out.sent[43][0], "5 minutes")
}

func TestFirstSlotNotifiesEveryone(t *testing.T) {
	sc := newScenario(t)
	sc.selectTalk(t, 42, sc.slot1, sc.talk1)
	sc.selectTalk(t, 43, sc.slot1, sc.talk2)
	require.NoError(t, sc.store.SaveNotificationSetting(context.Background(), 44, false))
	sc.selectTalk(t, 44, sc.slot1, sc.talk2)

	now := clock("08:00")
	sub := newFakeSubstrate(now)
	out := &fakeDeliverer{}
	p := newPlanner(sc, sub, out, now)
	_, err := p.Replan(context.Background())
	require.NoError(t, err)

	sub.fire(t, JobName(sc.slot1))
	require.Equal(t, []int64{42, 43}, out.recipients())
}

func TestReplanIsIdempotent(t *testing.T) {
	sc := newScenario(t)
	sc.selectTalk(t, 42, sc.slot1, sc.talk1)

	now := clock("08:00")
	sub := newFakeSubstrate(now)
	out := &fakeDeliverer{}
	p := newPlanner(sc, sub, out, now)

	_, err := p.Replan(context.Background())
	require.NoError(t, err)
	res, err := p.Replan(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Planned: 2, Removed: 2}, res)
	require.Len(t, sub.jobs, 2)
	require.Len(t, p.Jobs(), 2)

	sub.fire(t, JobName(sc.slot1))
	require.Len(t, out.sent[42], 1)
}

func TestReplanSkipsPastTriggers(t *testing.T) {
	sc := newScenario(t)
	now := clock("09:57") // slot1 reminder was due at 08:55, slot2 at 09:55
	sub := newFakeSubstrate(now)
	p := newPlanner(sc, sub, &fakeDeliverer{}, now)

	res, err := p.Replan(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Skipped: 2}, res)
	require.Empty(t, sub.jobs)

	// Substrate refusing an exactly-due trigger also counts as skipped.
	sub.now = clock("10:00")
	p.now = func() time.Time { return clock("09:00") }
	res, err = p.Replan(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Skipped: 2}, res)
}

func TestApplyReportsLeadChange(t *testing.T) {
	p := New(Config{}, Deps{})
	require.Equal(t, DefaultLead, p.Lead())
	require.False(t, p.Apply(Config{Lead: DefaultLead, JobTimeout: time.Minute}))
	require.True(t, p.Apply(Config{Lead: 10 * time.Minute}))
	require.Equal(t, 10*time.Minute, p.Lead())
}

type failingSlots struct{}

func (failingSlots) GetAllSlots(context.Context) ([]domain.TimeSlot, error) {
	return nil, errors.New("db down")
}

func TestReplanKeepsJobsWhenScheduleUnreadable(t *testing.T) {
	sub := newFakeSubstrate(clock("08:00"))
	sub.jobs["reminder:slot-1"] = func(context.Context) error { return nil }
	p := New(Config{}, Deps{Slots: failingSlots{}, Sched: sub})

	_, err := p.Replan(context.Background())
	require.ErrorContains(t, err, "db down")
	require.Len(t, sub.jobs, 1)
}

func TestSyncReplansAfterExternalEdit(t *testing.T) {
	sc := newScenario(t)
	now := clock("08:00")
	sub := newFakeSubstrate(now)
	p := newPlanner(sc, sub, &fakeDeliverer{}, now)

	ran, err := p.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, ran, "nothing planned yet")
	require.Len(t, p.Jobs(), 2)

	ran, err = p.Sync(context.Background())
	require.NoError(t, err)
	require.False(t, ran)

	k3 := domain.NewSlotKey(day, clock("11:00"), clock("12:00"))
	require.NoError(t, sc.store.EditSchedule(context.Background(), func(w domain.ScheduleWriter) error {
		_, err := w.FindOrCreateSlots(context.Background(), []domain.SlotKey{k3})
		return err
	}))

	ran, err = p.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, p.Jobs(), 3)
	require.Len(t, sub.jobs, 3)
}
