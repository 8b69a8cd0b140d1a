package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"confbot/internal/eventbus"
	logx "confbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// ErrPastTrigger is returned by AddOnce when the trigger time is not in the future.
var ErrPastTrigger = errors.New("trigger time is not in the future")

// Config controls the scheduler service.
type Config struct {
	Enabled     bool
	Timezone    string // IANA TZ used for logging and snapshots, e.g. "Europe/Berlin"
	HistorySize int    // finished runs kept for Snapshot (default 64)
}

// Job is the unit of work run when a one-shot trigger fires.
type Job func(ctx context.Context) error

type onceDef struct {
	id      string
	name    string
	at      time.Time
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	now func() time.Time

	c    *cron.Cron
	base context.Context
	defs map[string]*onceDef
	seq  uint64

	hmu     sync.Mutex
	history []HistoryItem
}

// JobInfo describes a pending one-shot job.
type JobInfo struct {
	ID      string
	Name    string
	At      time.Time
	Timeout time.Duration
	Next    time.Time // zero until registered with a running cron
}

// HistoryItem records one finished run.
type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string
	Jobs     []JobInfo
	History  []HistoryItem
}
