package scheduling

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseClock accepts "HH:MM", "HH:MM:SS", a "YYYY-MM-DD HH:MM[:SS]"
// timestamp or RFC 3339. Seconds are dropped.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockOf(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidClockFormat, s)
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) Minutes() int { return int(c) }

// Add returns c shifted by n minutes. The result may pass midnight; String
// keeps counting hours rather than wrapping.
func (c Clock) Add(n int) Clock { return c + Clock(n) }

// Compare returns -1, 0 or +1.
func (c Clock) Compare(o Clock) int {
	switch {
	case c < o:
		return -1
	case c > o:
		return 1
	}
	return 0
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On anchors c to the calendar day of date in loc.
func (c Clock) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: expected a string", ErrInvalidClockFormat)
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value stores the clock in a TIME column.
func (c Clock) Value() (driver.Value, error) {
	return fmt.Sprintf("%s:00", c.String()), nil
}

// Scan reads a TIME column, which pgx hands over as text.
func (c *Clock) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return c.scanString(v)
	case []byte:
		return c.scanString(string(v))
	case time.Time:
		*c = ClockOf(v)
		return nil
	case nil:
		return fmt.Errorf("scan clock: NULL")
	}
	return fmt.Errorf("scan clock: unsupported type %T", src)
}

func (c *Clock) scanString(s string) error {
	// Postgres may append fractional seconds.
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DateOnly truncates t to its calendar date, expressed at UTC midnight.
// All appointment dates are compared in this form.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD query or body value.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidDateFormat)
	}
	return t, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
