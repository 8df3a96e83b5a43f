package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// LessonDate is when a lesson takes place. The Registry sends either an
// RFC 3339 timestamp or a bare calendar date.
type LessonDate struct {
	time.Time
	// DateOnly is set when the Registry gave no time of day.
	DateOnly bool
}

// UnmarshalJSON accepts RFC 3339 timestamps, "2006-01-02" dates and null.
func (d *LessonDate) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("lesson date: %w", err)
	}
	if s == nil || *s == "" {
		*d = LessonDate{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		*d = LessonDate{Time: t}
		return nil
	}
	t, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return fmt.Errorf("lesson date %q: want RFC 3339 or YYYY-MM-DD", *s)
	}
	*d = LessonDate{Time: t, DateOnly: true}
	return nil
}

// MarshalJSON writes the date back in the form it was received.
func (d LessonDate) MarshalJSON() ([]byte, error) {
	if d.DateOnly {
		return json.Marshal(d.Time.Format(time.DateOnly))
	}
	return json.Marshal(d.Time)
}

// In returns the lesson time in loc. A bare date is midnight in loc.
func (d LessonDate) In(loc *time.Location) time.Time {
	if d.DateOnly {
		y, m, day := d.Time.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, loc)
	}
	return d.Time.In(loc)
}

// At returns a LessonDate for a full timestamp.
func At(t time.Time) LessonDate {
	return LessonDate{Time: t}
}
