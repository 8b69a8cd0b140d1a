package eventbus

// Event types published by the bot.
const (
	// TypeScheduleChanged is published after a schedule edit committed. Data: ScheduleChanged.
	TypeScheduleChanged = "schedule.changed"
	// TypeNotifyPlanned is published after reminder jobs were (re)planned. Data: NotifyPlanned.
	TypeNotifyPlanned = "notify.planned"
	// TypeFanoutFinished is published when a delivery batch finished. Data: the fan-out report.
	TypeFanoutFinished = "fanout.finished"
	// TypeJobFinished is published when a scheduled job returned. Data: scheduler.HistoryItem.
	TypeJobFinished = "job.finished"
)

type ScheduleChanged struct {
	Source    string  `json:"source"`
	SlotIDs   []int64 `json:"slot_ids"`
	Deleted   int     `json:"deleted"`
	Inserted  int     `json:"inserted"`
	Updated   int     `json:"updated"`
	Unchanged int     `json:"unchanged"`
}

type NotifyPlanned struct {
	Planned int `json:"planned"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
}
