/*
datekey.go - Calendar-date keys and the daily cutoff

The debit rule is keyed on calendar days ("YYYY-MM-DD") evaluated in a
configured time zone, not on instants. A store that ran on a given key never
runs again on that key, regardless of server clock or restarts.
*/
package registry

import (
	"regexp"
	"time"
)

// DateKey is a calendar date rendered as "YYYY-MM-DD" in some time zone.
type DateKey string

const dateKeyLayout = "2006-01-02"

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateKeyIn renders the calendar date of an instant in the given location.
func DateKeyIn(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.UTC
	}
	return DateKey(t.In(loc).Format(dateKeyLayout))
}

// IsValid reports whether the key has the canonical shape.
func (k DateKey) IsValid() bool {
	if !dateKeyPattern.MatchString(string(k)) {
		return false
	}
	_, err := time.Parse(dateKeyLayout, string(k))
	return err == nil
}

// CutoffAt returns the instant of hour:00 local time on this date.
func (k DateKey) CutoffAt(hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateKeyLayout, string(k), loc)
	if err != nil {
		return time.Time{}
	}
	return d.Add(time.Duration(hour) * time.Hour)
}

// NextRunAt returns the next instant the cutoff-enforced sweep becomes due:
// today at the cutoff hour if still ahead, otherwise tomorrow.
func NextRunAt(now time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	today := DateKeyIn(now, loc).CutoffAt(hour, loc)
	if now.Before(today) {
		return today
	}
	return today.AddDate(0, 0, 1)
}
