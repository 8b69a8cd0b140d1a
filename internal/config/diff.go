package config

import (
	"reflect"
	"sort"
	"strings"

	logx "confbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (token, dsn) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nst.DSN) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
	}

	if oldCfg.Event != newCfg.Event {
		changed = append(changed, "event")
		attrs = append(attrs,
			logx.String("event.timezone", newCfg.Event.Timezone),
			logx.String("event.display_timezone", newCfg.Event.DisplayTimezone),
			logx.Int("event.year", newCfg.Event.Year),
		)
	}

	on, nn := derefNotifications(oldCfg.Notifications), derefNotifications(newCfg.Notifications)
	if on != nn {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.String("notifications.lead_time", nn.LeadTime),
			logx.Int("notifications.batch_size", nn.BatchSize),
			logx.String("notifications.batch_pause", nn.BatchPause),
			logx.Int("notifications.rate_per_sec", nn.RatePerSec),
			logx.Int("notifications.retry_max", nn.RetryMax),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the settings a running process cannot apply.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.Event != newCfg.Event {
		out = append(out, "event")
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefNotifications(n *NotificationsConfig) NotificationsConfig {
	if n == nil {
		return NotificationsConfig{}
	}
	return *n
}
