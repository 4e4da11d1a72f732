package recurrence

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuleRejectsMalformedInput(t *testing.T) {
	t.Parallel()
	today := NewDate(2024, 2, 10)
	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{name: "quarterly without anchor month", in: Input{Frequency: Quarterly, DayOfMonth: Int(1)}, field: "anchor_month"},
		{name: "weekly day 7", in: Input{Frequency: Weekly, DayOfWeek: Int(7)}, field: "day_of_week"},
		{name: "weekly without day", in: Input{Frequency: Weekly}, field: "day_of_week"},
		{name: "monthly day 0", in: Input{Frequency: Monthly, DayOfMonth: Int(0)}, field: "day_of_month"},
		{name: "monthly day 32", in: Input{Frequency: Monthly, DayOfMonth: Int(32)}, field: "day_of_month"},
		{name: "yearly month 12", in: Input{Frequency: Yearly, DayOfMonth: Int(1), AnchorMonth: Int(12)}, field: "anchor_month"},
		{name: "daily without time", in: Input{Frequency: Daily}, field: "time_of_day"},
		{name: "daily bad time", in: Input{Frequency: Daily, TimeOfDay: "25:00"}, field: "time_of_day"},
		{name: "unknown frequency", in: Input{Frequency: "biweekly"}, field: "frequency"},
		{name: "interval outside set", in: Input{Frequency: Monthly, Interval: 2, DayOfMonth: Int(1)}, field: "interval"},
		{name: "interval inconsistent", in: Input{Frequency: Quarterly, Interval: 6, DayOfMonth: Int(1), AnchorMonth: Int(0)}, field: "interval"},
		{name: "negative due offset", in: Input{Frequency: Monthly, DayOfMonth: Int(1), DueDateOffset: -1}, field: "due_date_offset"},
		{name: "negative target offset", in: Input{Frequency: Monthly, DayOfMonth: Int(1), TargetDateOffset: Int(-2)}, field: "target_date_offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.in, today)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNewRuleDropsFieldsForOtherFrequencies(t *testing.T) {
	t.Parallel()
	r, err := NewRule(Input{
		ID:          "r1",
		Frequency:   Weekly,
		DayOfWeek:   Int(2),
		DayOfMonth:  Int(15),
		AnchorMonth: Int(3),
		TimeOfDay:   "08:00",
	}, NewDate(2024, 5, 1))
	require.NoError(t, err)
	assert.NotNil(t, r.DayOfWeek)
	assert.Nil(t, r.DayOfMonth)
	assert.Nil(t, r.AnchorMonth)
	assert.Nil(t, r.TimeOfDay)
	assert.True(t, r.IsActive)
	assert.Equal(t, 1, r.Interval)
	require.NoError(t, r.Validate())
}

func TestValidateRejectsRolledStartDate(t *testing.T) {
	t.Parallel()
	r := Rule{ID: "r", Frequency: Monthly, Interval: 1, DayOfMonth: Int(30), StartDate: Date{Year: 2023, Month: 2, Day: 30}}
	err := r.Validate()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "start_date", ve.Field)
}

func TestRuleJSONShape(t *testing.T) {
	t.Parallel()
	r, err := NewRule(Input{ID: "r", Frequency: Daily, TimeOfDay: "7:05", TargetDateOffset: Int(2)}, NewDate(2024, 1, 2))
	require.NoError(t, err)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "07:05", m["time_of_day"])
	assert.Equal(t, "2024-01-02", m["start_date"])
	assert.Equal(t, "daily", m["frequency"])
	assert.NotContains(t, m, "day_of_week")

	var back Rule
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r, back)
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]Frequency{
		"daily":       Daily,
		" Weekly ":    Weekly,
		"half-yearly": HalfYearly,
		"halfyearly":  HalfYearly,
		"half_yearly": HalfYearly,
		"QUARTERLY":   Quarterly,
	} {
		got, err := ParseFrequency(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseFrequency("hourly")
	assert.Error(t, err)
}

func TestApplyEditKeepsAnchorUnlessInputsChange(t *testing.T) {
	t.Parallel()
	in := Input{ID: "q", Frequency: Quarterly, DayOfMonth: Int(1), AnchorMonth: Int(0), Template: Template{Title: "VAT return"}}
	prev, err := NewRule(in, NewDate(2024, 2, 10))
	require.NoError(t, err)
	prev.IsActive = false

	in.Template.Title = "VAT return (Q)"
	in.ID = ""
	next, err := ApplyEdit(prev, in, NewDate(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, "q", next.ID)
	assert.Equal(t, prev.StartDate, next.StartDate)
	assert.False(t, next.IsActive)
	assert.Equal(t, "VAT return (Q)", next.Template.Title)

	in.AnchorMonth = Int(1)
	moved, err := ApplyEdit(prev, in, NewDate(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 2, 1), moved.StartDate)
	assert.True(t, AnchorChanged(prev, moved))

	in.Frequency = Monthly
	in.AnchorMonth = nil
	monthly, err := ApplyEdit(prev, in, NewDate(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 6, 1), monthly.StartDate)
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	today := NewDate(2024, 2, 10)
	tests := []struct {
		in   Input
		want string
	}{
		{Input{Frequency: Daily, TimeOfDay: "09:00"}, "every day at 09:00"},
		{Input{Frequency: Weekly, DayOfWeek: Int(0)}, "every Monday"},
		{Input{Frequency: Monthly, DayOfMonth: Int(31)}, "every month on day 31 (last day in shorter months)"},
		{Input{Frequency: Quarterly, DayOfMonth: Int(1), AnchorMonth: Int(0)}, "every 3 months on day 1, starting January 2024"},
		{Input{Frequency: Yearly, DayOfMonth: Int(1), AnchorMonth: Int(0)}, "every year on 1 January"},
	}
	for _, tt := range tests {
		r, err := NewRule(tt.in, today)
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.Describe())
	}
	assert.Equal(t, "March", MonthName(2))
	assert.Equal(t, "", MonthName(12))
}
