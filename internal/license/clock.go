package license

import "time"

// DayLayout is the calendar-day granularity validation tokens are scoped to
const DayLayout = "2006-01-02"

// Clock supplies the current time. Tests pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// DayOf returns the UTC calendar day of t
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
