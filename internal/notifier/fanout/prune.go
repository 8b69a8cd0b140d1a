package fanout

import (
	"sort"
	"time"
)

const (
	// Keep report memory bounded; reminder jobs create one report per slot.
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

// History returns retained reports, newest first.
func (s *Service) History() []Report {
	s.statusMu.RLock()
	out := make([]Report, 0, len(s.status))
	for _, r := range s.status {
		cp := *r
		cp.Failures = append([]int64(nil), r.Failures...)
		out = append(out, cp)
	}
	s.statusMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out
}

func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	max := s.statusMax
	if max <= 0 {
		max = defaultStatusMax
	}
	ttl := s.statusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	for id, r := range s.status {
		ref := r.Finished
		if ref.IsZero() {
			ref = r.Started
		}
		if now.Sub(ref) > ttl {
			delete(s.status, id)
		}
	}
	if len(s.status) < max {
		return
	}

	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(s.status))
	for id, r := range s.status {
		items = append(items, kv{id: id, t: r.Started})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })
	// Leave room for the report about to be added.
	for i := 0; i <= len(items)-max; i++ {
		delete(s.status, items[i].id)
	}
}
