package scheduler

import (
	"sort"
	"time"
)

// Snapshot lists pending jobs ordered by trigger time and the recent run history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	running := s.c != nil
	loc := s.loc
	items := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := JobInfo{ID: d.id, Name: d.name, At: d.at, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			it.Next = s.c.Entry(d.entryID).Next
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].At.Equal(items[j].At) {
			return items[i].At.Before(items[j].At)
		}
		return items[i].Name < items[j].Name
	})

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:  enabled,
		Running:  running,
		Timezone: tz,
		Jobs:     items,
		History:  hist,
	}
}
