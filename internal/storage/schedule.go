package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"confbot/internal/domain"
)

const talkColumns = `t.id, t.title, t.speaker, t.location, ts.id, ts.date, ts.start_time, ts.end_time`

// FindOrCreateSlots resolves every key to a slot id, creating missing slots.
// Duplicate keys and keys of existing slots are fine.
func (c conn) FindOrCreateSlots(ctx context.Context, keys []domain.SlotKey) (map[domain.SlotKey]int64, error) {
	out := make(map[domain.SlotKey]int64, len(keys))
	for _, k := range keys {
		if _, ok := out[k]; ok {
			continue
		}
		start, end := formatInstant(k.StartTime()), formatInstant(k.EndTime())
		if _, err := c.exec(ctx,
			`INSERT INTO time_slots(date, start_time, end_time) VALUES(?,?,?)
			 ON CONFLICT(date, start_time, end_time) DO NOTHING`,
			k.Date, start, end,
		); err != nil {
			return nil, classify("create slot", err)
		}
		var id int64
		err := c.queryRow(ctx,
			`SELECT id FROM time_slots WHERE date = ? AND start_time = ? AND end_time = ?`,
			k.Date, start, end,
		).Scan(&id)
		if err != nil {
			return nil, classify("find slot", err)
		}
		out[k] = id
	}
	return out, nil
}

// DeleteTalks removes the talks at the given (slot, location) pairs and
// returns how many rows were deleted.
func (c conn) DeleteTalks(ctx context.Context, keys []domain.TalkKey) (int, error) {
	total := 0
	for _, k := range keys {
		res, err := c.exec(ctx, `DELETE FROM talks WHERE time_slot_id = ? AND location = ?`, k.SlotID, k.Location)
		if err != nil {
			return total, classify("delete talk", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += int(n)
		}
	}
	return total, nil
}

// UpsertTalks inserts new talks and updates existing ones in place, keyed by
// (slot, location). Unchanged rows are not written so their ids stay stable.
func (c conn) UpsertTalks(ctx context.Context, drafts []domain.TalkDraft, slots map[domain.SlotKey]int64) (domain.UpsertStats, error) {
	var st domain.UpsertStats
	for _, d := range drafts {
		slotID, ok := slots[d.Slot]
		if !ok {
			return st, fmt.Errorf("upsert talk %q: slot %s not resolved", d.Title, d.Slot)
		}

		var (
			id             int64
			title, speaker string
		)
		err := c.queryRow(ctx,
			`SELECT id, title, speaker FROM talks WHERE time_slot_id = ? AND location = ?`,
			slotID, d.Location,
		).Scan(&id, &title, &speaker)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := c.exec(ctx,
				`INSERT INTO talks(title, speaker, time_slot_id, location) VALUES(?,?,?,?)`,
				d.Title, d.Speaker, slotID, d.Location,
			); err != nil {
				return st, classify("insert talk", err)
			}
			st.Inserted++
		case err != nil:
			return st, classify("find talk", err)
		case title == d.Title && speaker == d.Speaker:
			st.Unchanged++
		default:
			if _, err := c.exec(ctx,
				`UPDATE talks SET title = ?, speaker = ?, time_slot_id = ? WHERE id = ?`,
				d.Title, d.Speaker, slotID, id,
			); err != nil {
				return st, classify("update talk", err)
			}
			st.Updated++
		}
	}
	return st, nil
}

// GetAllSlots returns every slot ordered by (date, start_time).
// The ordering is relied upon by the notification planner.
func (c conn) GetAllSlots(ctx context.Context) ([]domain.TimeSlot, error) {
	rows, err := c.query(ctx, `SELECT id, date, start_time, end_time FROM time_slots ORDER BY date, start_time`)
	if err != nil {
		return nil, classify("get all slots", err)
	}
	defer rows.Close()
	var out []domain.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c conn) GetSlot(ctx context.Context, id int64) (domain.TimeSlot, error) {
	row := c.queryRow(ctx, `SELECT id, date, start_time, end_time FROM time_slots WHERE id = ?`, id)
	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TimeSlot{}, fmt.Errorf("slot %d: %w", id, domain.ErrNotFound)
	}
	return s, err
}

func (c conn) GetAllSlotIDs(ctx context.Context) ([]int64, error) {
	return c.ids(ctx, "get all slot ids", `SELECT id FROM time_slots ORDER BY date, start_time`)
}

func (c conn) GetSlotIDsOnDay(ctx context.Context, date string) ([]int64, error) {
	return c.ids(ctx, "get slot ids on day", `SELECT id FROM time_slots WHERE date = ? ORDER BY start_time`, date)
}

func (c conn) GetAllDates(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `SELECT DISTINCT date FROM time_slots ORDER BY date`)
	if err != nil {
		return nil, classify("get all dates", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetInTimeSlot returns the slot and its talks ordered by location.
// It fails with domain.ErrNotFound when the slot does not exist.
func (c conn) GetInTimeSlot(ctx context.Context, slotID int64) (domain.TimeSlot, []domain.Talk, error) {
	slot, err := c.GetSlot(ctx, slotID)
	if err != nil {
		return domain.TimeSlot{}, nil, err
	}
	talks, err := c.talks(ctx, "get in time slot",
		`SELECT `+talkColumns+` FROM talks t JOIN time_slots ts ON ts.id = t.time_slot_id
		 WHERE t.time_slot_id = ? ORDER BY t.location`, slotID)
	if err != nil {
		return domain.TimeSlot{}, nil, err
	}
	return slot, talks, nil
}

// GetAllSpeeches lists talks ordered by (date, location, start_time).
// An empty date means every day.
func (c conn) GetAllSpeeches(ctx context.Context, date string) ([]domain.Talk, error) {
	q := `SELECT ` + talkColumns + ` FROM talks t JOIN time_slots ts ON ts.id = t.time_slot_id`
	var args []any
	if date != "" {
		q += ` WHERE ts.date = ?`
		args = append(args, date)
	}
	q += ` ORDER BY ts.date, t.location, ts.start_time`
	return c.talks(ctx, "get all speeches", q, args...)
}

func (c conn) ids(ctx context.Context, op, q string, args ...any) ([]int64, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c conn) talks(ctx context.Context, op, q string, args ...any) ([]domain.Talk, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	var out []domain.Talk
	for rows.Next() {
		t, err := scanTalk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

type slotRow struct {
	id               int64
	date, start, end string
}

func (r slotRow) toDomain() (domain.TimeSlot, error) {
	start, err := parseInstant(r.start)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	end, err := parseInstant(r.end)
	if err != nil {
		return domain.TimeSlot{}, err
	}
	return domain.TimeSlot{ID: r.id, Date: r.date, Start: start, End: end}, nil
}

func scanSlot(s scanner) (domain.TimeSlot, error) {
	var r slotRow
	if err := s.Scan(&r.id, &r.date, &r.start, &r.end); err != nil {
		return domain.TimeSlot{}, err
	}
	return r.toDomain()
}

// scanTalk reads the talkColumns projection.
func scanTalk(s scanner) (domain.Talk, error) {
	var (
		t domain.Talk
		r slotRow
	)
	if err := s.Scan(&t.ID, &t.Title, &t.Speaker, &t.Location, &r.id, &r.date, &r.start, &r.end); err != nil {
		return domain.Talk{}, err
	}
	slot, err := r.toDomain()
	if err != nil {
		return domain.Talk{}, err
	}
	t.Slot = slot
	return t, nil
}
