package config

type Config struct {
	Telegram      TelegramConfig       `json:"telegram"`
	Logging       LoggingConfig        `json:"logging"`
	Storage       *StorageConfig       `json:"storage,omitempty"`
	Scheduler     SchedulerConfig      `json:"scheduler"`
	Event         EventConfig          `json:"event"`
	Notifications *NotificationsConfig `json:"notifications,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the relational backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./confbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/confbot?sslmode=disable" }
//
// If the section is omitted, sqlite at ./confbot.db is used.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the reminder job substrate.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone; defaults to the event timezone.
	Timezone    string `json:"timezone,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// EventConfig describes the conference calendar.
type EventConfig struct {
	// Timezone the schedule file is written in (IANA name). Default UTC.
	Timezone string `json:"timezone,omitempty"`
	// DisplayTimezone is used when rendering times; defaults to Timezone.
	DisplayTimezone string `json:"display_timezone,omitempty"`
	// Year completes DD-MM dates in schedule files; defaults to the current year.
	Year int `json:"year,omitempty"`
}

// NotificationsConfig tunes reminders and fan-out delivery.
//
// All durations are Go duration strings. Defaults:
//   - lead_time: "5m"
//   - batch_size: 24
//   - batch_pause: "1s"
//   - rate_per_sec: 0 (no ceiling)
//   - retry_max: 0 (fire-and-forget)
//   - retry_base: "500ms"
//   - job_timeout: "0s" (none)
type NotificationsConfig struct {
	LeadTime   string `json:"lead_time,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	BatchPause string `json:"batch_pause,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
}
