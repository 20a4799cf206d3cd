package schedule

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/homeshield/aegis/internal/errors"
)

// TimeOfDay is an immutable wall-clock time with minute precision.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, the rest value receivers
type TimeOfDay struct {
	hour   int
	minute int
}

// Named times accepted by ParseTimeOfDay alongside the numeric forms.
var namedTimes = map[string]TimeOfDay{
	"noon":      {hour: 12},
	"midnight":  {},
	"morning":   {hour: 9},
	"afternoon": {hour: 15},
	"evening":   {hour: 19},
	"night":     {hour: 22},
}

// NewTimeOfDay builds a TimeOfDay, validating hour and minute ranges.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 {
		return TimeOfDay{}, apperrors.ValidationField("hour", fmt.Sprintf("hour %d out of range [0,23]", hour))
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, apperrors.ValidationField("minute", fmt.Sprintf("minute %d out of range [0,59]", minute))
	}
	return TimeOfDay{hour: hour, minute: minute}, nil
}

// MustTimeOfDay builds a TimeOfDay and panics on invalid input.
// Intended for package-level constants and tests.
func MustTimeOfDay(hour, minute int) TimeOfDay {
	t, err := NewTimeOfDay(hour, minute)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTimeOfDay parses a time of day from text. Accepted forms:
//
//	"HH:MM"        24-hour, e.g. "09:00", "21:30"
//	"H:MM AM|PM"   12-hour, e.g. "9:00 AM", "9:30pm"
//	"H AM|PM"      bare 12-hour, e.g. "9 PM"
//	"H"            bare 24-hour, e.g. "9", "17"
//	named          "noon", "midnight", "morning", "afternoon", "evening", "night"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return TimeOfDay{}, apperrors.ValidationField("time", "time is empty")
	}

	if t, ok := namedTimes[v]; ok {
		return t, nil
	}

	pm := false
	meridiem := false
	switch {
	case strings.HasSuffix(v, "am"):
		meridiem = true
		v = strings.TrimSpace(strings.TrimSuffix(v, "am"))
	case strings.HasSuffix(v, "pm"):
		meridiem = true
		pm = true
		v = strings.TrimSpace(strings.TrimSuffix(v, "pm"))
	}

	hourPart, minutePart, hasMinute := strings.Cut(v, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(hourPart))
	if err != nil {
		return TimeOfDay{}, apperrors.ValidationField("time", "unrecognized time: "+s)
	}

	minute := 0
	if hasMinute {
		minute, err = strconv.Atoi(strings.TrimSpace(minutePart))
		if err != nil {
			return TimeOfDay{}, apperrors.ValidationField("time", "unrecognized time: "+s)
		}
	}

	if meridiem {
		if hour < 1 || hour > 12 {
			return TimeOfDay{}, apperrors.ValidationField("hour", fmt.Sprintf("12-hour clock hour %d out of range [1,12]", hour))
		}
		if hour == 12 {
			hour = 0
		}
		if pm {
			hour += 12
		}
	}

	return NewTimeOfDay(hour, minute)
}

// Hour returns the hour in [0,23].
func (t TimeOfDay) Hour() int { return t.hour }

// Minute returns the minute in [0,59].
func (t TimeOfDay) Minute() int { return t.minute }

// TotalMinutes returns minutes since midnight.
func (t TimeOfDay) TotalMinutes() int {
	return t.hour*60 + t.minute
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.TotalMinutes() < other.TotalMinutes()
}

// After reports whether t is later in the day than other.
func (t TimeOfDay) After(other TimeOfDay) bool {
	return t.TotalMinutes() > other.TotalMinutes()
}

// Equal reports whether the two times are the same minute of the day.
func (t TimeOfDay) Equal(other TimeOfDay) bool {
	return t.hour == other.hour && t.minute == other.minute
}

// MinutesUntil returns the signed minute difference other − t.
func (t TimeOfDay) MinutesUntil(other TimeOfDay) int {
	return other.TotalMinutes() - t.TotalMinutes()
}

// Format24 renders the time as zero-padded 24-hour "HH:MM".
func (t TimeOfDay) Format24() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// Format12 renders the time as 12-hour "H:MM AM|PM".
func (t TimeOfDay) Format12() string {
	meridiem := "AM"
	hour := t.hour
	switch {
	case hour == 0:
		hour = 12
	case hour == 12:
		meridiem = "PM"
	case hour > 12:
		hour -= 12
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.minute, meridiem)
}

// String returns the 24-hour form.
func (t TimeOfDay) String() string {
	return t.Format24()
}

// MarshalText implements encoding.TextMarshaler using the 24-hour form.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.Format24()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting every form
// ParseTimeOfDay accepts.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
