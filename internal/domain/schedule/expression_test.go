package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/homeshield/aegis/internal/errors"
)

func mustExpression(t *testing.T, days []Day, tod TimeOfDay, zone string) Expression {
	t.Helper()
	expr, err := NewExpression(days, tod, zone)
	require.NoError(t, err)
	return expr
}

func TestNewExpression_CanonicalizesDays(t *testing.T) {
	expr := mustExpression(t, []Day{Friday, Monday, Friday, Wednesday}, MustTimeOfDay(9, 0), "UTC")
	assert.Equal(t, []Day{Monday, Wednesday, Friday}, expr.Days())
}

func TestNewExpression_DefaultsToUTC(t *testing.T) {
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "")
	assert.Equal(t, "UTC", expr.Zone())
}

func TestNewExpression_Validation(t *testing.T) {
	tests := []struct {
		name string
		days []Day
		zone string
	}{
		{"empty days", nil, "UTC"},
		{"invalid day", []Day{Day(9)}, "UTC"},
		{"unknown zone", []Day{Monday}, "Mars/Olympus_Mons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExpression(tt.days, MustTimeOfDay(9, 0), tt.zone)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestParseExpression(t *testing.T) {
	expr, err := ParseExpression("mon,wed", "9:00 AM", "UTC")
	require.NoError(t, err)
	assert.Equal(t, []Day{Monday, Wednesday}, expr.Days())
	assert.True(t, expr.Time().Equal(MustTimeOfDay(9, 0)))

	expr, err = ParseExpression("weekdays", "noon", "")
	require.NoError(t, err)
	assert.Equal(t, []Day{Monday, Tuesday, Wednesday, Thursday, Friday}, expr.Days())
	assert.True(t, expr.Time().Equal(MustTimeOfDay(12, 0)))
	assert.Equal(t, "UTC", expr.Zone())

	_, err = ParseExpression("", "9:00", "UTC")
	require.Error(t, err)

	_, err = ParseExpression("mon,funday", "9:00", "UTC")
	require.Error(t, err)
}

func TestExpression_Equal_IgnoresDayOrder(t *testing.T) {
	a := mustExpression(t, []Day{Wednesday, Monday}, MustTimeOfDay(9, 0), "UTC")
	b := mustExpression(t, []Day{Monday, Wednesday, Monday}, MustTimeOfDay(9, 0), "UTC")
	c := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC")
	d := mustExpression(t, []Day{Wednesday, Monday}, MustTimeOfDay(9, 1), "UTC")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
}

func TestExpression_NextFire_SameDayWhenTimeAhead(t *testing.T) {
	// Monday 2024-01-01, reference 08:00, fire time 09:00.
	expr := mustExpression(t, []Day{Monday, Wednesday, Friday}, MustTimeOfDay(9, 0), "UTC")
	ref := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	next, err := expr.NextFire(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestExpression_NextFire_SkipsToNextWeekWhenTimePassed(t *testing.T) {
	// Monday 2024-01-01, reference 10:00, fire time 09:00, Mondays only.
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC")
	ref := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	next, err := expr.NextFire(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestExpression_NextFire_StrictlyAfterReference(t *testing.T) {
	// A reference exactly on the fire instant advances to the next matching day.
	expr := mustExpression(t, []Day{Monday, Wednesday}, MustTimeOfDay(9, 0), "UTC")
	ref := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	next, err := expr.NextFire(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), next)
}

func TestExpression_NextFire_OneSecondPastYieldsNextWeek(t *testing.T) {
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC")
	ref := time.Date(2024, 1, 1, 9, 0, 1, 0, time.UTC)

	next, err := expr.NextFire(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestExpression_NextFire_UsesStoredZoneNotHostZone(t *testing.T) {
	// 09:00 Monday in New York. Reference is Monday 13:00 UTC = 08:00 EST,
	// so the fire is one hour later at 14:00 UTC.
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "America/New_York")
	ref := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)

	next, err := expr.NextFire(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next.UTC())

	local := next.In(expr.Location())
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 0, local.Minute())
}

func TestExpression_NextFire_SpringForwardSkipsErasedTime(t *testing.T) {
	// 02:30 does not exist on Sunday 2024-03-10 in New York; the fire
	// advances a full week.
	expr := mustExpression(t, []Day{Sunday}, MustTimeOfDay(2, 30), "America/New_York")
	ref := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) // Saturday

	next, err := expr.NextFire(ref)
	require.NoError(t, err)

	local := next.In(expr.Location())
	assert.Equal(t, time.Date(2024, 3, 17, 2, 30, 0, 0, expr.Location()), local)
}

func TestExpression_NextFire_FallBackUsesFirstInstance(t *testing.T) {
	// 01:30 occurs twice on Sunday 2024-11-03 in New York; the first
	// instance (EDT, 05:30 UTC) wins.
	expr := mustExpression(t, []Day{Sunday}, MustTimeOfDay(1, 30), "America/New_York")
	ref := time.Date(2024, 11, 2, 12, 0, 0, 0, time.UTC) // Saturday

	next, err := expr.NextFire(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), next.UTC())
}

func TestExpression_NextFire_Invariants(t *testing.T) {
	expressions := []Expression{
		mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC"),
		mustExpression(t, Weekdays(), MustTimeOfDay(23, 59), "UTC"),
		mustExpression(t, Weekends(), MustTimeOfDay(0, 0), "America/New_York"),
		mustExpression(t, EveryDay(), MustTimeOfDay(12, 30), "Asia/Tokyo"),
	}
	refs := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 6, 15, 4, 30, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC),
	}

	for _, expr := range expressions {
		for _, ref := range refs {
			next, err := expr.NextFire(ref)
			require.NoError(t, err)

			assert.True(t, next.After(ref), "next-fire must be strictly after the reference")
			assert.True(t, expr.MatchesDay(next), "next-fire must land on a scheduled day")

			local := next.In(expr.Location())
			assert.Equal(t, expr.Time().Hour(), local.Hour())
			assert.Equal(t, expr.Time().Minute(), local.Minute())
		}
	}
}

func TestExpression_MatchesDay_UsesStoredZone(t *testing.T) {
	// Monday 00:30 UTC is still Sunday evening in New York.
	expr := mustExpression(t, []Day{Sunday}, MustTimeOfDay(19, 30), "America/New_York")
	instant := time.Date(2024, 1, 8, 0, 30, 0, 0, time.UTC)

	assert.True(t, expr.MatchesDay(instant))

	utcExpr := mustExpression(t, []Day{Sunday}, MustTimeOfDay(19, 30), "UTC")
	assert.False(t, utcExpr.MatchesDay(instant))
}

func TestExpression_ShouldExecuteAt(t *testing.T) {
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC")

	assert.True(t, expr.ShouldExecuteAt(time.Date(2024, 1, 1, 9, 0, 30, 0, time.UTC)))
	assert.False(t, expr.ShouldExecuteAt(time.Date(2024, 1, 1, 9, 1, 0, 0, time.UTC)))
	assert.False(t, expr.ShouldExecuteAt(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)))
}

func TestExpression_Upcoming_TwoWeeksOfMondays(t *testing.T) {
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC")
	ref := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	fires, err := expr.Upcoming(14, ref)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}, fires)
}

func TestExpression_Upcoming_StrictlyIncreasingWithinBound(t *testing.T) {
	expr := mustExpression(t, EveryDay(), MustTimeOfDay(6, 15), "UTC")
	ref := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)
	const days = 10

	fires, err := expr.Upcoming(days, ref)
	require.NoError(t, err)
	require.Len(t, fires, days)

	bound := ref.Add(days * 24 * time.Hour)
	for i, fire := range fires {
		assert.False(t, fire.After(bound), "fire %d beyond window", i)
		if i > 0 {
			assert.True(t, fire.After(fires[i-1]), "fires must increase strictly")
		}
	}
}

func TestExpression_Upcoming_NonPositiveDays(t *testing.T) {
	expr := mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC")
	fires, err := expr.Upcoming(0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, fires)
}

func TestExpression_ConflictsWith(t *testing.T) {
	base := mustExpression(t, []Day{Monday, Wednesday}, MustTimeOfDay(9, 0), "UTC")

	tests := []struct {
		name      string
		other     Expression
		tolerance int
		want      bool
	}{
		{
			name:      "shared day within tolerance",
			other:     mustExpression(t, []Day{Wednesday}, MustTimeOfDay(9, 20), "UTC"),
			tolerance: 30,
			want:      true,
		},
		{
			name:      "shared day outside tolerance",
			other:     mustExpression(t, []Day{Wednesday}, MustTimeOfDay(10, 0), "UTC"),
			tolerance: 30,
			want:      false,
		},
		{
			name:      "disjoint days",
			other:     mustExpression(t, []Day{Tuesday}, MustTimeOfDay(9, 0), "UTC"),
			tolerance: 120,
			want:      false,
		},
		{
			name:      "exact boundary",
			other:     mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 30), "UTC"),
			tolerance: 30,
			want:      true,
		},
		{
			name:      "zero tolerance same time",
			other:     mustExpression(t, []Day{Monday}, MustTimeOfDay(9, 0), "UTC"),
			tolerance: 0,
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.ConflictsWith(tt.other, tt.tolerance))
			assert.Equal(t, tt.want, tt.other.ConflictsWith(base, tt.tolerance))
		})
	}
}

func TestExpression_JSONRoundTrip(t *testing.T) {
	expr := mustExpression(t, []Day{Friday, Monday}, MustTimeOfDay(21, 30), "America/New_York")

	data, err := json.Marshal(expr)
	require.NoError(t, err)

	var back Expression
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, expr.Equal(back))

	// The decoded expression is fully usable, not just structurally equal.
	_, err = back.NextFire(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func TestExpression_UnmarshalJSON_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty days", `{"days":[],"time":"09:00","timezone":"UTC"}`},
		{"bad day", `{"days":["FUNDAY"],"time":"09:00","timezone":"UTC"}`},
		{"bad time", `{"days":["MONDAY"],"time":"25:00","timezone":"UTC"}`},
		{"bad zone", `{"days":["MONDAY"],"time":"09:00","timezone":"Nowhere/Void"}`},
		{"malformed", `{"days":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var expr Expression
			require.Error(t, json.Unmarshal([]byte(tt.data), &expr))
		})
	}
}
