package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"confbot/internal/eventbus"
	kit "confbot/internal/transport"
	logx "confbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []int64
	fail  map[int64]int // remaining failures per chat
	calls map[int64]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[int64]int{}, calls: map[int64]int{}}
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[to.ChatID]++
	if f.fail[to.ChatID] > 0 {
		f.fail[to.ChatID]--
		return kit.MessageRef{}, errors.New("blocked by user")
	}
	f.sent = append(f.sent, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.pauses = append(r.pauses, d)
	r.mu.Unlock()
	return ctx.Err()
}

func messages(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{To: kit.ChatTarget{ChatID: int64(i + 1)}, Text: "hi"}
	}
	return out
}

func newService(cfg Config, sender Sender, bus eventbus.Bus) (*Service, *sleepRecorder) {
	s := New(cfg, sender, logx.Nop(), bus)
	rec := &sleepRecorder{}
	s.sleep = rec.sleep
	return s, rec
}

func TestDeliverBatchesWithPause(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		pauses int
	}{
		{name: "empty", total: 0, pauses: 0},
		{name: "single chunk", total: 24, pauses: 0},
		{name: "two chunks", total: 25, pauses: 1},
		{name: "three chunks", total: 60, pauses: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newFakeSender()
			s, rec := newService(Config{}, sender, nil)

			rep := s.Deliver(context.Background(), "starting", messages(tt.total))
			require.Equal(t, tt.total, rep.Total)
			require.Equal(t, tt.total, rep.Sent)
			require.Zero(t, rep.Failed)
			require.False(t, rep.Cancelled)
			require.Len(t, sender.sent, tt.total)
			require.Len(t, rec.pauses, tt.pauses)
			for _, p := range rec.pauses {
				require.Equal(t, DefaultBatchPause, p)
			}
		})
	}
}

func TestDeliverToleratesFailures(t *testing.T) {
	sender := newFakeSender()
	sender.fail[2] = 1
	sender.fail[4] = 5
	bus := eventbus.New()
	events, unsub := bus.Subscribe(1)
	defer unsub()
	s, _ := newService(Config{BatchSize: 2}, sender, bus)

	rep := s.Deliver(context.Background(), "changed", messages(5))
	require.Equal(t, 3, rep.Sent)
	require.Equal(t, 2, rep.Failed)
	require.Equal(t, []int64{2, 4}, rep.Failures)
	require.Equal(t, []int64{1, 3, 5}, sender.sent)
	require.Equal(t, 1, sender.calls[2], "no retry by default")

	e := <-events
	require.Equal(t, eventbus.TypeFanoutFinished, e.Type)
	require.Equal(t, rep.ID, e.Data.(Report).ID)

	got, ok := s.Status(rep.ID)
	require.True(t, ok)
	require.Equal(t, rep.Failed, got.Failed)
}

func TestDeliverRetriesWhenConfigured(t *testing.T) {
	sender := newFakeSender()
	sender.fail[1] = 2
	sender.fail[2] = 5
	s, rec := newService(Config{RetryMax: 2, RetryBase: time.Millisecond}, sender, nil)

	rep := s.Deliver(context.Background(), "starting", messages(2))
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 3, sender.calls[1])
	require.Equal(t, 3, sender.calls[2])
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, time.Millisecond, 2 * time.Millisecond}, rec.pauses)
}

func TestDeliverStopsOnCancel(t *testing.T) {
	sender := newFakeSender()
	s, _ := newService(Config{BatchSize: 2}, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := s.Deliver(ctx, "starting", messages(3))
	require.True(t, rep.Cancelled)
	require.Empty(t, sender.sent)
}

func TestDeliverHonoursRateLimit(t *testing.T) {
	sender := newFakeSender()
	s, _ := newService(Config{RatePerSec: 1000}, sender, nil)
	rep := s.Deliver(context.Background(), "starting", messages(10))
	require.Equal(t, 10, rep.Sent)
}

func TestHistoryIsBounded(t *testing.T) {
	s, _ := newService(Config{}, newFakeSender(), nil)
	s.statusMax = 3
	for i := 0; i < 5; i++ {
		s.Deliver(context.Background(), "x", messages(1))
	}
	require.LessOrEqual(t, len(s.History()), 3)
}
