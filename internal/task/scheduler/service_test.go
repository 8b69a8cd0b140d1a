package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"confbot/internal/eventbus"
	logx "confbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

func newStarted(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestOnceScheduleFiresOnce(t *testing.T) {
	at := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	s := onceSchedule{at: at}
	require.Equal(t, at, s.Next(at.Add(-time.Hour)))
	require.True(t, s.Next(at).IsZero())
	require.True(t, s.Next(at.Add(time.Second)).IsZero())
}

func TestAddOnceRejectsPastTrigger(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.AddOnce("past", now, 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPastTrigger)
	_, err = s.AddOnce("older", now.Add(-time.Minute), 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPastTrigger)

	name, err := s.AddOnce("future", now.Add(time.Minute), 0, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, "future", name)
	require.Len(t, s.Snapshot().Jobs, 1)
}

func TestAddOnceValidates(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	_, err := s.AddOnce(" ", time.Now().Add(time.Hour), 0, func(context.Context) error { return nil })
	require.Error(t, err)
	_, err = s.AddOnce("x", time.Now().Add(time.Hour), 0, nil)
	require.Error(t, err)
}

func TestAddOnceRunsJob(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s := newStarted(t, bus)

	done := make(chan bool, 1)
	_, err := s.AddOnce("soon", time.Now().Add(50*time.Millisecond), time.Second, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		done <- hasDeadline
		return errors.New("delivery failed")
	})
	require.NoError(t, err)

	select {
	case hasDeadline := <-done:
		require.True(t, hasDeadline)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	select {
	case e := <-events:
		require.Equal(t, eventbus.TypeJobFinished, e.Type)
		require.Equal(t, "soon", e.Data.(HistoryItem).Name)
		require.Equal(t, "delivery failed", e.Data.(HistoryItem).Error)
	case <-time.After(3 * time.Second):
		t.Fatal("no job.finished event")
	}

	snap := s.Snapshot()
	require.Empty(t, snap.Jobs)
	require.Len(t, snap.History, 1)
	require.True(t, snap.Running)
}

func TestAddOnceReplacesByName(t *testing.T) {
	s := newStarted(t, nil)

	var first, second atomic.Int32
	done := make(chan struct{})
	_, err := s.AddOnce("slot-1", time.Now().Add(60*time.Millisecond), 0, func(context.Context) error {
		first.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = s.AddOnce("slot-1", time.Now().Add(80*time.Millisecond), 0, func(context.Context) error {
		second.Add(1)
		close(done)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, s.Snapshot().Jobs, 1)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("replacement did not run")
	}
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), first.Load())
	require.Equal(t, int32(1), second.Load())
}

func TestRemoveAllCancelsPendingJobs(t *testing.T) {
	s := newStarted(t, nil)

	var ran atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.AddOnce(name, time.Now().Add(100*time.Millisecond), 0, func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.Equal(t, 2, s.RemoveAll())
	require.Equal(t, 0, s.RemoveAll())

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(0), ran.Load())
}

func TestJobsAddedBeforeStartAreRegistered(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	done := make(chan struct{})
	_, err := s.AddOnce("early", time.Now().Add(80*time.Millisecond), 0, func(context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)
	require.False(t, s.Snapshot().Running)

	s.Start(context.Background())
	defer s.Stop(context.Background())
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job registered before Start did not run")
	}
}

func TestSnapshotOrdersByTrigger(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop(), nil)
	base := time.Now().Add(time.Hour)
	noop := func(context.Context) error { return nil }
	_, _ = s.AddOnce("late", base.Add(time.Minute), 0, noop)
	_, _ = s.AddOnce("early", base, 0, noop)

	snap := s.Snapshot()
	require.Equal(t, "UTC", snap.Timezone)
	require.Len(t, snap.Jobs, 2)
	require.Equal(t, "early", snap.Jobs[0].Name)
	require.Equal(t, "late", snap.Jobs[1].Name)
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		s.record(HistoryItem{Name: "x"}, 3)
	}
	require.Len(t, s.Snapshot().History, 3)
}
