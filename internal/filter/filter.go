// Package filter narrows a reading set to an optional date/time range.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
)

var (
	ErrInvalidDate     = errors.New("filter: invalid date, want YYYY-MM-DD")
	ErrInvalidTime     = errors.New("filter: invalid time, want HH:MM or HH:MM:SS")
	ErrTimeWithoutDate = errors.New("filter: a time needs its matching date")
)

const dateLayout = time.DateOnly

// Criteria holds the four optional bounds. An empty string means absent.
// Criteria are replaced wholesale, never merged.
type Criteria struct {
	StartDate string
	EndDate   string
	StartTime string
	EndTime   string
}

// IsZero reports whether no field is set.
func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

// Normalize trims surrounding whitespace from every field.
func (c Criteria) Normalize() Criteria {
	return Criteria{
		StartDate: strings.TrimSpace(c.StartDate),
		EndDate:   strings.TrimSpace(c.EndDate),
		StartTime: strings.TrimSpace(c.StartTime),
		EndTime:   strings.TrimSpace(c.EndTime),
	}
}

func (c Criteria) String() string {
	if c.IsZero() {
		return "all readings"
	}
	side := func(date, clock string) string {
		if date == "" {
			return "…"
		}
		if clock == "" {
			return date
		}
		return date + " " + clock
	}
	return side(c.StartDate, c.StartTime) + " → " + side(c.EndDate, c.EndTime)
}

// Validate rejects unparsable fields and a time supplied without its date.
func (c Criteria) Validate() error {
	_, err := c.Bounds(time.UTC)
	return err
}

// Bounds is the effective inclusive range. A side whose date is absent is
// unbounded. An inverted range is valid and contains nothing.
type Bounds struct {
	Lower, Upper       time.Time
	HasLower, HasUpper bool
}

// Bounds resolves the criteria in loc. A missing start time defaults to
// 00:00:00, a missing end time to 23:59:59; a time without seconds is
// widened the same way.
func (c Criteria) Bounds(loc *time.Location) (Bounds, error) {
	var b Bounds
	if c.StartTime != "" && c.StartDate == "" {
		return b, fmt.Errorf("start: %w", ErrTimeWithoutDate)
	}
	if c.EndTime != "" && c.EndDate == "" {
		return b, fmt.Errorf("end: %w", ErrTimeWithoutDate)
	}

	var err error
	if c.StartDate != "" {
		b.Lower, err = resolve(c.StartDate, c.StartTime, "00:00", 0, loc)
		if err != nil {
			return Bounds{}, fmt.Errorf("start: %w", err)
		}
		b.HasLower = true
	}
	if c.EndDate != "" {
		b.Upper, err = resolve(c.EndDate, c.EndTime, "23:59", 59, loc)
		if err != nil {
			return Bounds{}, fmt.Errorf("end: %w", err)
		}
		b.HasUpper = true
	}
	return b, nil
}

func resolve(date, clock, defaultClock string, defaultSeconds int, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	if clock == "" {
		clock = defaultClock
	}
	var t time.Time
	switch strings.Count(clock, ":") {
	case 1:
		t, err = time.Parse("15:04", clock)
		t = t.Add(time.Duration(defaultSeconds) * time.Second)
	case 2:
		t, err = time.Parse(time.TimeOnly, clock)
	default:
		err = ErrInvalidTime
	}
	if err != nil {
		return time.Time{}, ErrInvalidTime
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// Contains reports whether ts lies within the bounds.
func (b Bounds) Contains(ts time.Time) bool {
	if b.HasLower && ts.Before(b.Lower) {
		return false
	}
	if b.HasUpper && ts.After(b.Upper) {
		return false
	}
	return true
}

// Apply returns the readings of rs that satisfy c, preserving order. With
// zero criteria rs itself is returned. Invalid criteria are an error.
func Apply(rs []reading.Reading, c Criteria, loc *time.Location) ([]reading.Reading, error) {
	if c.IsZero() {
		return rs, nil
	}
	b, err := c.Bounds(loc)
	if err != nil {
		return nil, err
	}
	out := make([]reading.Reading, 0, len(rs))
	for _, r := range rs {
		if b.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}
