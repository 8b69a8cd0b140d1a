// Package importer turns an uploaded schedule file into edit rows.
//
// Expected CSV header (any column order, extra columns ignored):
//
//	date,start_time,end_time,title,speaker,location
//
// date is DD-MM (event year from config) or DD-MM-YYYY, times are HH:MM in the
// event timezone. A row with an empty title deletes the talk at that
// (slot, location).
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"confbot/internal/domain"
)

var columns = []string{"date", "start_time", "end_time", "title", "speaker", "location"}

// maxRowErrors bounds how many row errors are reported for one file.
const maxRowErrors = 10

// RowError reports an invalid row. Row counts the header as row 1.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, %s: %v", e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var (
	ErrMissingColumn = errors.New("missing column")
	ErrEmpty         = errors.New("no rows")
)

type Parser struct {
	loc  *time.Location
	year int
}

// NewParser interprets times in loc (UTC when nil); DD-MM dates get year
// (the current year in loc when 0).
func NewParser(loc *time.Location, year int) Parser {
	if loc == nil {
		loc = time.UTC
	}
	if year <= 0 {
		year = time.Now().In(loc).Year()
	}
	return Parser{loc: loc, year: year}
}

// Parse reads every row. It fails without returning rows when any row is
// invalid.
func (p Parser) Parse(r io.Reader) ([]domain.Edit, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, c := range columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}

	var (
		edits []domain.Edit
		errs  []error
	)
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if blank(rec) {
			continue
		}
		get := func(c string) string {
			i := idx[c]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		e, rerr := p.row(row, get)
		if rerr != nil {
			errs = append(errs, rerr)
			if len(errs) >= maxRowErrors {
				break
			}
			continue
		}
		edits = append(edits, e)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(edits) == 0 {
		return nil, ErrEmpty
	}
	return edits, nil
}

func (p Parser) row(n int, get func(string) string) (domain.Edit, error) {
	y, m, d, err := p.date(get("date"))
	if err != nil {
		return domain.Edit{}, &RowError{Row: n, Column: "date", Err: err}
	}
	start, err := p.clock(y, m, d, get("start_time"))
	if err != nil {
		return domain.Edit{}, &RowError{Row: n, Column: "start_time", Err: err}
	}
	end, err := p.clock(y, m, d, get("end_time"))
	if err != nil {
		return domain.Edit{}, &RowError{Row: n, Column: "end_time", Err: err}
	}
	if !end.After(start) {
		return domain.Edit{}, &RowError{Row: n, Err: errors.New("end_time must be after start_time")}
	}
	loc := get("location")
	if loc == "" {
		return domain.Edit{}, &RowError{Row: n, Column: "location", Err: errors.New("empty")}
	}

	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(domain.DateLayout)
	title := get("title")
	return domain.Edit{
		Slot:     domain.NewSlotKey(date, start, end),
		Location: loc,
		Title:    title,
		Speaker:  get("speaker"),
		Delete:   title == "",
	}, nil
}

// date accepts DD-MM and DD-MM-YYYY.
func (p Parser) date(s string) (int, time.Month, int, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid date %q, expected DD-MM or DD-MM-YYYY", s)
	}
	day, err1 := strconv.Atoi(parts[0])
	mon, err2 := strconv.Atoi(parts[1])
	year := p.year
	var err3 error
	if len(parts) == 3 {
		year, err3 = strconv.Atoi(parts[2])
	}
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, fmt.Errorf("invalid date %q", s)
	}
	t := time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != mon || t.Year() != year {
		return 0, 0, 0, fmt.Errorf("no such date %q", s)
	}
	return year, time.Month(mon), day, nil
}

func (p Parser) clock(y int, m time.Month, d int, s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, p.loc).UTC(), nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
