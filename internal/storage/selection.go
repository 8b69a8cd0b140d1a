package storage

import (
	"context"

	"confbot/internal/domain"
)

// SaveSelection replaces the attendee's selection for the slot. A nil talkID
// clears it. Delete and insert share one transaction, and the insert resolves
// a racing writer for the same pair as last-commit-wins.
func (s *Store) SaveSelection(ctx context.Context, attendeeID, slotID int64, talkID *int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.SaveSelection(ctx, attendeeID, slotID, talkID)
	})
}

func (tx *Tx) SaveSelection(ctx context.Context, attendeeID, slotID int64, talkID *int64) error {
	if _, err := tx.exec(ctx,
		`DELETE FROM selections WHERE attendee_id = ? AND time_slot_id = ?`,
		attendeeID, slotID,
	); err != nil {
		return classify("delete selection", err)
	}
	if talkID == nil {
		return nil
	}
	if _, err := tx.exec(ctx,
		`INSERT INTO selections(attendee_id, time_slot_id, talk_id) VALUES(?,?,?)
		 ON CONFLICT(attendee_id, time_slot_id) DO UPDATE SET talk_id = excluded.talk_id`,
		attendeeID, slotID, *talkID,
	); err != nil {
		return classify("insert selection", err)
	}
	return nil
}

// GetSelectedSpeeches lists the attendee's selected talks ordered by
// (date, start_time). An empty date means every day. Selections whose talk
// was deleted are skipped.
func (c conn) GetSelectedSpeeches(ctx context.Context, attendeeID int64, date string) ([]domain.Talk, error) {
	q := `SELECT ` + talkColumns + `
		FROM selections s
		JOIN talks t ON t.id = s.talk_id
		JOIN time_slots ts ON ts.id = t.time_slot_id
		WHERE s.attendee_id = ?`
	args := []any{attendeeID}
	if date != "" {
		q += ` AND ts.date = ?`
		args = append(args, date)
	}
	q += ` ORDER BY ts.date, ts.start_time`
	return c.talks(ctx, "get selected speeches", q, args...)
}
