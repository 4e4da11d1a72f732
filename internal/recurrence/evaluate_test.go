package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func mustRule(t *testing.T, in Input, today string) Rule {
	t.Helper()
	r, err := NewRule(in, mustDate(t, today))
	require.NoError(t, err)
	return r
}

func TestIsDueQuarterlyAnchorStability(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "q1", Frequency: Quarterly, DayOfMonth: Int(1), AnchorMonth: Int(0)}, "2024-02-10")
	require.Equal(t, mustDate(t, "2024-01-01"), r.StartDate)
	require.Equal(t, 3, r.Interval)

	tests := []struct {
		date string
		want bool
	}{
		{"2024-01-01", true},
		{"2024-02-10", false},
		{"2024-03-01", false},
		{"2024-04-01", true},
		{"2024-04-02", false},
		{"2024-07-01", true},
		{"2024-10-01", true},
		{"2025-01-01", true},
		{"2025-02-01", false},
		{"2023-10-01", false},
	}
	for _, tt := range tests {
		got, err := IsDue(r, mustDate(t, tt.date))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.date)
	}
}

func TestIsDueHalfYearlyPastAnchor(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "h1", Frequency: HalfYearly, DayOfMonth: Int(15), AnchorMonth: Int(6)}, "2024-09-01")
	require.Equal(t, mustDate(t, "2024-07-15"), r.StartDate)

	for date, want := range map[string]bool{
		"2024-07-15": true,
		"2024-10-15": false,
		"2025-01-15": true,
		"2025-04-15": false,
		"2025-07-15": true,
		"2024-01-15": false,
	} {
		got, err := IsDue(r, mustDate(t, date))
		require.NoError(t, err)
		assert.Equal(t, want, got, date)
	}
}

func TestIsDueYearlyFutureAnchor(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "y1", Frequency: Yearly, DayOfMonth: Int(1), AnchorMonth: Int(0)}, "2024-02-10")
	require.Equal(t, mustDate(t, "2025-01-01"), r.StartDate)

	got, err := IsDue(r, mustDate(t, "2025-01-01"))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = IsDue(r, mustDate(t, "2024-01-01"))
	require.NoError(t, err)
	assert.False(t, got, "occurrence before the anchor must never fire")

	got, err = IsDue(r, mustDate(t, "2026-01-01"))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = IsDue(r, mustDate(t, "2025-02-01"))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsDueYearlyLeapDayClamps(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "y2", Frequency: Yearly, DayOfMonth: Int(29), AnchorMonth: Int(1)}, "2024-01-10")
	require.Equal(t, mustDate(t, "2024-02-29"), r.StartDate)

	got, err := IsDue(r, mustDate(t, "2025-02-28"))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = IsDue(r, mustDate(t, "2025-03-01"))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsDueMonthlyClampsToMonthEnd(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "m31", Frequency: Monthly, DayOfMonth: Int(31)}, "2023-01-01")

	for date, want := range map[string]bool{
		"2023-01-31": true,
		"2023-02-28": true,
		"2023-03-30": false,
		"2023-03-31": true,
		"2023-04-30": true,
		"2024-02-28": false,
		"2024-02-29": true,
		"2022-12-31": false,
	} {
		got, err := IsDue(r, mustDate(t, date))
		require.NoError(t, err)
		assert.Equal(t, want, got, date)
	}
}

func TestIsDueWeeklyExactMatch(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "w0", Frequency: Weekly, DayOfWeek: Int(0)}, "2024-01-01")

	start := mustDate(t, "2024-01-01")
	for i := 0; i < 35; i++ {
		d := start.AddDays(i)
		got, err := IsDue(r, d)
		require.NoError(t, err)
		assert.Equal(t, d.Time().Weekday() == time.Monday, got, d.String())
	}

	got, err := IsDue(r, mustDate(t, "2023-12-25"))
	require.NoError(t, err)
	assert.False(t, got, "Monday before the anchor")
}

func TestIsDueDailyFloor(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "d", Frequency: Daily, TimeOfDay: "09:30"}, "2024-03-10")

	got, err := IsDue(r, mustDate(t, "2024-03-09"))
	require.NoError(t, err)
	assert.False(t, got)

	got, err = IsDue(r, mustDate(t, "2024-03-10"))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateOffsetsCrossMonthBoundary(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "off", Frequency: Monthly, DayOfMonth: Int(29), DueDateOffset: 5, TargetDateOffset: Int(10)}, "2024-01-01")

	inst, ok, err := Evaluate(r, mustDate(t, "2024-01-29"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mustDate(t, "2024-02-03"), inst.DueDate)
	require.NotNil(t, inst.TargetDate)
	assert.Equal(t, mustDate(t, "2024-02-08"), *inst.TargetDate)
	assert.Equal(t, IdempotencyKey("off", mustDate(t, "2024-01-29")), inst.IdempotencyKey)

	_, ok, err = Evaluate(r, mustDate(t, "2024-01-30"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstanceDatesWithoutTarget(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "nt", Frequency: Weekly, DayOfWeek: Int(4)}, "2024-01-01")
	due, target, err := InstanceDates(r, mustDate(t, "2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, mustDate(t, "2024-12-31"), due)
	assert.Nil(t, target)
}

func TestIsDueInvalidRuleState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		rule  Rule
		field string
	}{
		{
			name:  "weekly without day",
			rule:  Rule{ID: "x", Frequency: Weekly, Interval: 1, StartDate: NewDate(2024, 1, 1)},
			field: "day_of_week",
		},
		{
			name:  "quarterly without anchor month",
			rule:  Rule{ID: "x", Frequency: Quarterly, Interval: 3, DayOfMonth: Int(1), StartDate: NewDate(2024, 1, 1)},
			field: "anchor_month",
		},
		{
			name:  "zero interval",
			rule:  Rule{ID: "x", Frequency: HalfYearly, DayOfMonth: Int(1), AnchorMonth: Int(0), StartDate: NewDate(2024, 1, 1)},
			field: "interval",
		},
		{
			name:  "no anchor",
			rule:  Rule{ID: "x", Frequency: Monthly, Interval: 1, DayOfMonth: Int(1)},
			field: "start_date",
		},
		{
			name:  "unknown frequency",
			rule:  Rule{ID: "x", Frequency: "fortnightly", Interval: 1, StartDate: NewDate(2024, 1, 1)},
			field: "frequency",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IsDue(tt.rule, NewDate(2024, 6, 1))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRuleState))
			var st *InvalidRuleStateError
			require.ErrorAs(t, err, &st)
			assert.Equal(t, tt.field, st.Field)
		})
	}
}

func TestNextOccurrences(t *testing.T) {
	t.Parallel()
	r := mustRule(t, Input{ID: "m31", Frequency: Monthly, DayOfMonth: Int(31)}, "2024-01-01")
	got, err := NextOccurrences(r, mustDate(t, "2023-06-01"), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []Date{NewDate(2024, 1, 31), NewDate(2024, 2, 29), NewDate(2024, 3, 31)}, got)

	y := mustRule(t, Input{ID: "y", Frequency: Yearly, DayOfMonth: Int(1), AnchorMonth: Int(0)}, "2024-02-10")
	got, err = NextOccurrences(y, mustDate(t, "2024-02-10"), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []Date{NewDate(2025, 1, 1), NewDate(2026, 1, 1)}, got)
}
