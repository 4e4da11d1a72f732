package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcadence/internal/recurrence"
)

func TestTodayUsesPracticeTimezone(t *testing.T) {
	t.Parallel()
	// 23:30 UTC on Jan 31 is already Feb 1 in Jakarta (UTC+7).
	c := NewFixed(time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC))
	jkt := time.FixedZone("WIB", 7*60*60)

	assert.Equal(t, recurrence.NewDate(2024, 1, 31), Today(c, nil))
	assert.Equal(t, recurrence.NewDate(2024, 2, 1), Today(c, jkt))
}

func TestFixedAdvance(t *testing.T) {
	t.Parallel()
	c := NewFixed(time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC))
	c.Advance(24 * time.Hour)
	assert.Equal(t, recurrence.NewDate(2024, 2, 29), Today(c, time.UTC))
	c.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, recurrence.NewDate(2025, 1, 1), Today(c, time.UTC))
}

func TestLoadLocationDefaultsToLocal(t *testing.T) {
	t.Parallel()
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
	_, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
}
