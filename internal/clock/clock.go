package clock

import (
	"errors"
	"fmt"
	"time"
)

const civilDateLayout = "2006-01-02"

var (
	// ErrInvalidTimezone indicates the configured timezone name could not be resolved.
	ErrInvalidTimezone = errors.New("clock: invalid timezone")
	// ErrInvalidCivilDate indicates a civil date string or tuple does not denote a real date.
	ErrInvalidCivilDate = errors.New("clock: invalid civil date")
)

// Clock converts between absolute instants and civil dates in one fixed timezone.
// Every date the system parses or renders goes through the same location, so a
// single timezone policy governs all user-facing dates.
type Clock struct {
	location *time.Location
	now      func() time.Time
}

// Config describes how to construct a Clock.
type Config struct {
	// Timezone is an IANA zone name such as "Asia/Seoul".
	Timezone string
	// Now overrides the wall clock, used by tests.
	Now func() time.Time
}

// New resolves the configured timezone and returns a Clock.
func New(cfg Config) (*Clock, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, cfg.Timezone, err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Clock{location: location, now: now}, nil
}

// Now returns the current absolute instant.
func (c *Clock) Now() time.Time {
	return c.now()
}

// Location exposes the fixed civil timezone.
func (c *Clock) Location() *time.Location {
	return c.location
}

// FromCivilDate returns the instant at local midnight of the given civil date.
func (c *Clock) FromCivilDate(year int, month time.Month, day int) (time.Time, error) {
	instant := time.Date(year, month, day, 0, 0, 0, 0, c.location)
	// time.Date normalizes out-of-range components; round-trip to reject them.
	gotYear, gotMonth, gotDay := instant.Date()
	if gotYear != year || gotMonth != month || gotDay != day {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidCivilDate, year, month, day)
	}
	return instant, nil
}

// ParseCivilDate parses a "YYYY-MM-DD" string as local midnight.
func (c *Clock) ParseCivilDate(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(civilDateLayout, value, c.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCivilDate, value)
	}
	return parsed, nil
}

// Civil returns the civil date and time-of-day components of an instant.
func (c *Clock) Civil(instant time.Time) (year int, month time.Month, day, hour, minute int) {
	local := instant.In(c.location)
	year, month, day = local.Date()
	hour = local.Hour()
	minute = local.Minute()
	return year, month, day, hour, minute
}

// Format renders an instant for display in the fixed timezone.
func (c *Clock) Format(instant time.Time) string {
	return instant.In(c.location).Format("2006-01-02 15:04")
}

// FormatDate renders only the civil date portion of an instant.
func (c *Clock) FormatDate(instant time.Time) string {
	return instant.In(c.location).Format(civilDateLayout)
}
