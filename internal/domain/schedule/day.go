// Package schedule defines the immutable value objects that describe when a
// scheduled task fires: calendar weekdays, times of day, and the recurrence
// expression combining a weekday set with a time and a timezone.
package schedule

import (
	"strings"
	"time"

	apperrors "github.com/homeshield/aegis/internal/errors"
)

// Day is a calendar weekday. The integer mapping matches time.Weekday
// (Sunday = 0) so conversions between the two are direct casts.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, the rest value receivers
type Day int

const (
	Sunday Day = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var dayNames = [7]string{"SUNDAY", "MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY"}

var dayAbbrevs = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// Valid returns true if the Day is one of the seven calendar weekdays.
func (d Day) Valid() bool {
	return d >= Sunday && d <= Saturday
}

// String returns the canonical full name, e.g. "MONDAY".
func (d Day) String() string {
	if !d.Valid() {
		return "INVALID"
	}
	return dayNames[d]
}

// Abbrev returns the three-letter form, e.g. "MON".
func (d Day) Abbrev() string {
	if !d.Valid() {
		return "INVALID"
	}
	return dayAbbrevs[d]
}

// Number returns the day number with Sunday = 0.
func (d Day) Number() int {
	return int(d)
}

// Weekday converts to the standard library weekday.
func (d Day) Weekday() time.Weekday {
	return time.Weekday(d)
}

// FromWeekday converts a standard library weekday to a Day.
func FromWeekday(w time.Weekday) Day {
	return Day(w)
}

// ParseDay parses a single weekday from its full or three-letter form,
// case-insensitively.
func ParseDay(s string) (Day, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for i := range dayNames {
		if v == dayNames[i] || v == dayAbbrevs[i] {
			return Day(i), nil
		}
	}
	return Sunday, apperrors.ValidationField("day", "unrecognized day of week: "+s)
}

// ParseDayGroup parses a day token that may be a single weekday or one of
// the collection keywords "weekdays", "weekends", "everyday", "daily", "all".
func ParseDayGroup(s string) ([]Day, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekdays":
		return Weekdays(), nil
	case "weekends":
		return Weekends(), nil
	case "everyday", "daily", "all":
		return EveryDay(), nil
	}
	d, err := ParseDay(s)
	if err != nil {
		return nil, err
	}
	return []Day{d}, nil
}

// Weekdays returns Monday through Friday.
func Weekdays() []Day {
	return []Day{Monday, Tuesday, Wednesday, Thursday, Friday}
}

// Weekends returns Saturday and Sunday.
func Weekends() []Day {
	return []Day{Saturday, Sunday}
}

// EveryDay returns all seven days.
func EveryDay() []Day {
	return []Day{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, apperrors.Validationf("cannot marshal invalid day %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler to parse a Day from
// JSON, env, or database text.
func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
