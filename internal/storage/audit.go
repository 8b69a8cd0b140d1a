package storage

import (
	"context"
	"time"
)

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername),
		e.Action, e.Target, e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return classify("append audit", err)
}
