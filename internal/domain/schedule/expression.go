package schedule

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	apperrors "github.com/homeshield/aegis/internal/errors"
)

// DefaultZone is used when an expression is built with an empty timezone.
const DefaultZone = "UTC"

// maxSearchDays bounds the next-fire walk. A non-empty day set always
// matches within a week; one extra day absorbs a spring-forward skip.
const maxSearchDays = 8

// Expression is the recurrence rule of a scheduled task: fire on every
// weekday in the set, at the given local time, interpreted in the given
// IANA timezone. Immutable after construction; the timezone is resolved
// eagerly so an unknown zone fails at build time, not at fire time.
//
//nolint:recvcheck // UnmarshalJSON needs pointer receiver, the rest value receivers
type Expression struct {
	days []Day
	mask uint8
	tod  TimeOfDay
	zone string
	loc  *time.Location
}

// expressionJSON is the serialized shape of an Expression.
type expressionJSON struct {
	Days     []Day     `json:"days"`
	Time     TimeOfDay `json:"time"`
	Timezone string    `json:"timezone"`
}

// NewExpression builds an Expression from a weekday set, a time of day,
// and an IANA timezone identifier (empty means UTC). The day set is
// canonicalized: duplicates removed, order normalized to Sunday-first.
func NewExpression(days []Day, tod TimeOfDay, zone string) (Expression, error) {
	if len(days) == 0 {
		return Expression{}, apperrors.ValidationField("days", "expression requires at least one day")
	}

	var mask uint8
	for _, d := range days {
		if !d.Valid() {
			return Expression{}, apperrors.ValidationField("days", "invalid day of week")
		}
		mask |= 1 << uint(d)
	}

	canonical := make([]Day, 0, len(days))
	for d := Sunday; d <= Saturday; d++ {
		if mask&(1<<uint(d)) != 0 {
			canonical = append(canonical, d)
		}
	}

	if strings.TrimSpace(zone) == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Expression{}, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "unknown timezone %q", zone)
	}

	return Expression{days: canonical, mask: mask, tod: tod, zone: zone, loc: loc}, nil
}

// ParseExpression builds an Expression from textual parts: a comma-separated
// day list (single days or the group keywords), a time in any form
// ParseTimeOfDay accepts, and a timezone identifier.
func ParseExpression(dayList, timeSpec, zone string) (Expression, error) {
	var days []Day
	for _, token := range strings.Split(dayList, ",") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		group, err := ParseDayGroup(token)
		if err != nil {
			return Expression{}, err
		}
		days = append(days, group...)
	}

	tod, err := ParseTimeOfDay(timeSpec)
	if err != nil {
		return Expression{}, err
	}

	return NewExpression(days, tod, zone)
}

// Days returns a copy of the canonical weekday set.
func (e Expression) Days() []Day {
	return slices.Clone(e.days)
}

// Time returns the time of day.
func (e Expression) Time() TimeOfDay { return e.tod }

// Zone returns the IANA timezone identifier.
func (e Expression) Zone() string { return e.zone }

// Location returns the resolved timezone.
func (e Expression) Location() *time.Location { return e.loc }

func (e Expression) containsDay(d Day) bool {
	return d.Valid() && e.mask&(1<<uint(d)) != 0
}

// NextFire returns the earliest instant strictly after from whose local
// weekday is in the day set and whose local wall clock equals the time of
// day. Local means in the expression's zone, never the host zone.
//
// A local time erased by a spring-forward transition is skipped in favor
// of the next matching day; a time repeated by a fall-back transition
// resolves to its first occurrence. The walk is bounded: if no candidate
// lands within maxSearchDays an error is returned.
func (e Expression) NextFire(from time.Time) (time.Time, error) {
	if e.loc == nil {
		return time.Time{}, apperrors.Validation("expression has no timezone")
	}

	year, month, day := from.In(e.loc).Date()
	for offset := 0; offset <= maxSearchDays; offset++ {
		candidate := time.Date(year, month, day+offset, e.tod.hour, e.tod.minute, 0, 0, e.loc)
		if candidate.Hour() != e.tod.hour || candidate.Minute() != e.tod.minute {
			// The wall-clock time does not exist on this date (spring forward).
			continue
		}
		if !e.containsDay(FromWeekday(candidate.Weekday())) {
			continue
		}
		if candidate.After(from) {
			return candidate, nil
		}
	}

	return time.Time{}, apperrors.Internalf("no fire instant within %d days of %s", maxSearchDays, from.Format(time.RFC3339))
}

// MatchesDay reports whether the instant's local weekday is in the day set.
func (e Expression) MatchesDay(at time.Time) bool {
	if e.loc == nil {
		return false
	}
	return e.containsDay(FromWeekday(at.In(e.loc).Weekday()))
}

// ShouldExecuteAt reports whether the instant matches the expression at
// minute precision: weekday in the set and local time equal to the time
// of day.
func (e Expression) ShouldExecuteAt(at time.Time) bool {
	if !e.MatchesDay(at) {
		return false
	}
	local := at.In(e.loc)
	return local.Hour() == e.tod.hour && local.Minute() == e.tod.minute
}

// Upcoming returns the ascending fire instants within (from, from+days*24h],
// computed by repeated NextFire with a one-minute nudge past each hit.
func (e Expression) Upcoming(days int, from time.Time) ([]time.Time, error) {
	if days <= 0 {
		return nil, nil
	}

	cutoff := from.Add(time.Duration(days) * 24 * time.Hour)
	var fires []time.Time
	cursor := from
	for {
		next, err := e.NextFire(cursor)
		if err != nil {
			return nil, err
		}
		if next.After(cutoff) {
			return fires, nil
		}
		if len(fires) == 0 || !next.Equal(fires[len(fires)-1]) {
			fires = append(fires, next)
		}
		cursor = next.Add(time.Minute)
	}
}

// ConflictsWith reports whether the two expressions share at least one
// weekday and their times of day are within toleranceMinutes of each other.
func (e Expression) ConflictsWith(other Expression, toleranceMinutes int) bool {
	if e.mask&other.mask == 0 {
		return false
	}
	diff := e.tod.MinutesUntil(other.tod)
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceMinutes
}

// Equal reports structural equality: same weekday set (order ignored),
// same time of day, same timezone identifier.
func (e Expression) Equal(other Expression) bool {
	return e.mask == other.mask && e.tod.Equal(other.tod) && e.zone == other.zone
}

// MarshalJSON implements json.Marshaler.
func (e Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(expressionJSON{
		Days:     e.Days(),
		Time:     e.tod,
		Timezone: e.zone,
	})
}

// UnmarshalJSON implements json.Unmarshaler, revalidating the expression
// so a decoded value carries a resolved timezone.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var raw expressionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed schedule expression")
	}
	parsed, err := NewExpression(raw.Days, raw.Time, raw.Timezone)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
