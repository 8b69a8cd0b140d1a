package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"confbot/internal/config"
	"confbot/internal/notifier/fanout"
	"confbot/internal/notify"
	"confbot/internal/storage"
	"confbot/internal/task/scheduler"
	logx "confbot/pkg/logx"
)

const defaultSQLitePath = "./confbot.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: defaultSQLitePath, BusyTimeout: time.Second}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultSQLitePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// eventSettings is the resolved event calendar.
type eventSettings struct {
	Loc     *time.Location // schedule files and "today"
	Display *time.Location // rendering
	Year    int
}

func mapEventConfig(cfg *config.Config) (eventSettings, error) {
	loc, err := config.ParseLocation("event.timezone", cfg.Event.Timezone, time.UTC)
	if err != nil {
		return eventSettings{}, err
	}
	display, err := config.ParseLocation("event.display_timezone", cfg.Event.DisplayTimezone, loc)
	if err != nil {
		return eventSettings{}, err
	}
	if cfg.Event.Year < 0 {
		return eventSettings{}, fmt.Errorf("event.year must be >= 0")
	}
	return eventSettings{Loc: loc, Display: display, Year: cfg.Event.Year}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Event.Timezone)
	}
	return scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    tz,
		HistorySize: cfg.Scheduler.HistorySize,
	}
}

// mapNotificationsConfig splits the notifications section into the planner
// policy and the delivery knobs.
func mapNotificationsConfig(cfg *config.Config) (notify.Config, fanout.Config, error) {
	var nc config.NotificationsConfig
	if cfg.Notifications != nil {
		nc = *cfg.Notifications
	}
	lead, err := config.ParseDurationOrDefault("notifications.lead_time", nc.LeadTime, notify.DefaultLead)
	if err != nil {
		return notify.Config{}, fanout.Config{}, err
	}
	if lead <= 0 {
		return notify.Config{}, fanout.Config{}, fmt.Errorf("notifications.lead_time must be > 0")
	}
	pause, err := config.ParseDurationOrDefault("notifications.batch_pause", nc.BatchPause, time.Second)
	if err != nil {
		return notify.Config{}, fanout.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("notifications.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notify.Config{}, fanout.Config{}, err
	}
	jobTimeout, err := config.ParseDurationField("notifications.job_timeout", nc.JobTimeout)
	if err != nil {
		return notify.Config{}, fanout.Config{}, err
	}
	switch {
	case nc.BatchSize < 0:
		return notify.Config{}, fanout.Config{}, fmt.Errorf("notifications.batch_size must be >= 0")
	case nc.RatePerSec < 0:
		return notify.Config{}, fanout.Config{}, fmt.Errorf("notifications.rate_per_sec must be >= 0")
	case nc.RetryMax < 0:
		return notify.Config{}, fanout.Config{}, fmt.Errorf("notifications.retry_max must be >= 0")
	}
	batch := nc.BatchSize
	if batch == 0 {
		batch = 24
	}
	return notify.Config{Lead: lead, JobTimeout: jobTimeout},
		fanout.Config{
			BatchSize:  batch,
			BatchPause: pause,
			RatePerSec: nc.RatePerSec,
			RetryMax:   nc.RetryMax,
			RetryBase:  retryBase,
		}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; 0 disables the chat sink.
func logTarget(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Validate rejects configs that cannot be applied. It runs at start-up and
// before every hot-reload commit.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
		}
	}
	if cfg.Scheduler.HistorySize < 0 {
		return fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if _, err := config.ParseLocation("scheduler.timezone", cfg.Scheduler.Timezone, nil); err != nil {
		return err
	}
	if _, err := mapEventConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapNotificationsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
