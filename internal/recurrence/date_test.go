package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateRollsForward(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Date{2023, time.March, 2}, NewDate(2023, time.February, 30))
	assert.Equal(t, Date{2024, time.March, 1}, NewDate(2024, time.February, 30))
	assert.Equal(t, Date{2024, time.May, 1}, NewDate(2024, time.April, 31))
}

func TestResolveAnchor(t *testing.T) {
	t.Parallel()
	today := NewDate(2024, time.February, 10)
	tests := []struct {
		name  string
		freq  Frequency
		dom   *int
		month *int
		dow   *int
		want  Date
	}{
		{name: "daily floor", freq: Daily, want: today},
		{name: "weekly floor", freq: Weekly, dow: Int(3), want: today},
		{name: "monthly floor", freq: Monthly, dom: Int(31), want: today},
		{name: "quarterly keeps past anchor", freq: Quarterly, dom: Int(1), month: Int(0), want: NewDate(2024, 1, 1)},
		{name: "half yearly future anchor", freq: HalfYearly, dom: Int(20), month: Int(7), want: NewDate(2024, 8, 20)},
		{name: "yearly past moves to next year", freq: Yearly, dom: Int(1), month: Int(0), want: NewDate(2025, 1, 1)},
		{name: "yearly today stays", freq: Yearly, dom: Int(10), month: Int(1), want: today},
		{name: "yearly later this year", freq: Yearly, dom: Int(31), month: Int(11), want: NewDate(2024, 12, 31)},
		{name: "quarterly feb 30 leap year", freq: Quarterly, dom: Int(30), month: Int(1), want: NewDate(2024, 3, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveAnchor(tt.freq, tt.dom, tt.month, tt.dow, today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := ResolveAnchor(HalfYearly, Int(30), Int(1), nil, NewDate(2023, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2023, 3, 2), got)

	_, err = ResolveAnchor(Yearly, Int(1), nil, nil, today)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDateHelpers(t *testing.T) {
	t.Parallel()
	d, err := ParseDate("2024-01-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-03", d.AddDays(5).String())
	assert.Equal(t, 0, NewDate(2024, 1, 1).Weekday())
	assert.Equal(t, 6, NewDate(2024, 1, 7).Weekday())
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2023, time.February))
	assert.Equal(t, 14, MonthsBetween(NewDate(2023, 11, 30), NewDate(2025, 1, 1)))
	assert.Equal(t, -2, MonthsBetween(NewDate(2024, 3, 1), NewDate(2024, 1, 31)))
	assert.True(t, NewDate(2024, 1, 1).Before(NewDate(2024, 1, 2)))

	_, err = ParseDate("2024-02-30")
	assert.Error(t, err)

	var s Date
	require.NoError(t, s.Scan(time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, NewDate(2024, 3, 4), s)
	require.NoError(t, s.Scan([]byte("2025-12-31")))
	assert.Equal(t, NewDate(2025, 12, 31), s)
	v, err := s.Value()
	require.NoError(t, err)
	assert.Equal(t, "2025-12-31", v)
}
