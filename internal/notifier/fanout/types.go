package fanout

import (
	"context"
	"sync"
	"time"

	"confbot/internal/eventbus"
	kit "confbot/internal/transport"
	logx "confbot/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize  = 24
	DefaultBatchPause = time.Second
)

type Config struct {
	BatchSize  int           // messages per chunk (default 24)
	BatchPause time.Duration // pause between chunks (default 1s; negative disables)
	RatePerSec int           // outbound ceiling, 0 disables the limiter
	RetryMax   int           // extra attempts per recipient, 0 is fire-and-forget
	RetryBase  time.Duration // linear backoff step (default 200ms)
}

// Sender is the outbound message channel.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Message is one rendered text for one recipient.
type Message struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

// Report summarizes one Deliver call.
type Report struct {
	ID       string
	Name     string
	Total    int
	Sent     int
	Failed   int
	Failures []int64 // chat ids, capped
	Started  time.Time
	Finished time.Time
	// Cancelled is set when ctx ended before every recipient was attempted.
	Cancelled bool
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error

	statusMu  sync.RWMutex
	status    map[string]*Report
	statusMax int
	statusTTL time.Duration
}
