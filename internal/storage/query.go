package storage

import (
	"context"
	"fmt"

	"confbot/internal/domain"
)

// optedIn keeps attendees whose preference row is absent or not explicitly false.
const optedIn = `(p.notifications_enabled IS NULL OR p.notifications_enabled = TRUE)`

// GetUsersThatSelected returns opted-in attendees with a selection in the slot,
// each paired with the talk they selected.
func (c conn) GetUsersThatSelected(ctx context.Context, slotID int64) ([]domain.Recipient, error) {
	return c.recipients(ctx, "get users that selected", `
		SELECT s.attendee_id, `+talkColumns+`
		FROM selections s
		JOIN talks t ON t.id = s.talk_id
		JOIN time_slots ts ON ts.id = t.time_slot_id
		LEFT JOIN preferences p ON p.user_id = s.attendee_id
		WHERE s.time_slot_id = ? AND `+optedIn+`
		ORDER BY s.attendee_id`,
		slotID,
	)
}

// GetChangingUsers returns opted-in attendees with a selection in the current
// slot whose location differs from their selection in the previous slot.
// Having no (live) selection in the previous slot counts as a change.
func (c conn) GetChangingUsers(ctx context.Context, currentSlotID, previousSlotID int64) ([]domain.Recipient, error) {
	return c.recipients(ctx, "get changing users", `
		SELECT s.attendee_id, `+talkColumns+`
		FROM selections s
		JOIN talks t ON t.id = s.talk_id
		JOIN time_slots ts ON ts.id = t.time_slot_id
		LEFT JOIN selections ps ON ps.attendee_id = s.attendee_id AND ps.time_slot_id = ?
		LEFT JOIN talks pt ON pt.id = ps.talk_id
		LEFT JOIN preferences p ON p.user_id = s.attendee_id
		WHERE s.time_slot_id = ? AND `+optedIn+`
		  AND (pt.id IS NULL OR pt.location <> t.location)
		ORDER BY s.attendee_id`,
		previousSlotID, currentSlotID,
	)
}

// GetUserIDsThatSelected lists (attendee, slot) pairs for the given slots
// ordered by attendee, regardless of notification preference.
func (c conn) GetUserIDsThatSelected(ctx context.Context, slotIDs []int64) ([]domain.SlotSelection, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(slotIDs))
	for i, id := range slotIDs {
		args[i] = id
	}
	rows, err := c.query(ctx,
		`SELECT attendee_id, time_slot_id FROM selections
		 WHERE time_slot_id IN (`+placeholders(len(slotIDs))+`)
		 ORDER BY attendee_id, time_slot_id`,
		args...,
	)
	if err != nil {
		return nil, classify("get user ids that selected", err)
	}
	defer rows.Close()
	var out []domain.SlotSelection
	for rows.Next() {
		var s domain.SlotSelection
		if err := rows.Scan(&s.AttendeeID, &s.SlotID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c conn) recipients(ctx context.Context, op, q string, args ...any) ([]domain.Recipient, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		var (
			r  domain.Recipient
			sr slotRow
			tk domain.Talk
		)
		if err := rows.Scan(&r.AttendeeID, &tk.ID, &tk.Title, &tk.Speaker, &tk.Location, &sr.id, &sr.date, &sr.start, &sr.end); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		slot, err := sr.toDomain()
		if err != nil {
			return nil, err
		}
		tk.Slot = slot
		r.Talk = tk
		out = append(out, r)
	}
	return out, rows.Err()
}
