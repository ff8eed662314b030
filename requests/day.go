package requests

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar day without time-of-day
// =============================================================================

// Day is a local calendar day. It is stored as midnight UTC of the same
// year/month/day so that comparisons never depend on time zones.
type Day struct {
	t time.Time
}

const (
	isoLayout   = "2006-01-02"
	labelLayout = "02 Jan 2006"
)

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf strips the time-of-day from t, using t's own calendar.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses an ISO date (YYYY-MM-DD).
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Day) Year() int         { return d.t.Year() }
func (d Day) Month() time.Month { return d.t.Month() }
func (d Day) Day() int          { return d.t.Day() }
func (d Day) IsZero() bool      { return d.t.IsZero() }
func (d Day) Time() time.Time   { return d.t }

// String returns the ISO form, used for storage and JSON.
func (d Day) String() string { return d.t.Format(isoLayout) }

// Label returns the human form embedded in day-off subjects ("03 Jan 2025").
func (d Day) Label() string { return d.t.Format(labelLayout) }

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the number of whole days from -> to.
func DaysBetween(from, to Day) int { return int(to.t.Sub(from.t).Hours() / 24) }
