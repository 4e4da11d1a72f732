package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taskcadence/pkg/logx"
)

func noop(context.Context) error { return nil }

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM(" 7:05 ")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)
	for _, bad := range []string{"", "7", "7:5", "aa:10", "10:60", "-1:00", "24:00"} {
		_, _, err := ParseHHMM(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddDailyNextInTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	require.NoError(t, s.AddDaily("generate", "00:05", noop))

	next, ok := s.Next("generate")
	require.True(t, ok)
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 5, next.Minute())
	assert.Equal(t, "UTC", next.Location().String())
	assert.True(t, next.After(time.Now()))
	assert.WithinDuration(t, time.Now(), next, 24*time.Hour)

	_, ok = s.Next("missing")
	assert.False(t, ok)
}

func TestAddCronReplacesAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.AddCron("job", "0 3 * * *", noop))
	require.NoError(t, s.AddCron("job", "0 4 * * *", noop))

	next, ok := s.Next("job")
	require.True(t, ok)
	assert.Equal(t, 4, next.Hour())

	assert.Error(t, s.AddCron("bad", "not a spec", noop))
	assert.Error(t, s.AddCron("", "0 4 * * *", noop))
	assert.Error(t, s.AddDaily("late", "25:00", noop))

	assert.True(t, s.Remove("job"))
	assert.False(t, s.Remove("job"))
}

func TestPreview(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	got, err := s.Preview("0 9 * * 1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ts := range got {
		assert.Equal(t, time.Monday, ts.Weekday())
		if i > 0 {
			assert.Equal(t, 7*24*time.Hour, ts.Sub(got[i-1]))
		}
	}
	_, err = s.Preview("nope", 1)
	assert.Error(t, err)
}

func TestApplyTimezoneChange(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	require.NoError(t, s.AddDaily("generate", "09:00", noop))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Apply(Config{Enabled: true, Timezone: "America/New_York"})
	assert.Equal(t, "America/New_York", s.Location().String())
	next, ok := s.Next("generate")
	require.True(t, ok)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, "America/New_York", next.Location().String())
}

func TestJobsFireAndSkipWhenStillRunning(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	var (
		started atomic.Int32
		release = make(chan struct{})
	)
	require.NoError(t, s.AddCron("tick", "* * * * * *", func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return started.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	// The first run is still blocked, so later ticks are skipped.
	time.Sleep(2200 * time.Millisecond)
	assert.EqualValues(t, 1, started.Load())

	close(release)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestDisabledSchedulerStartsOnApply(t *testing.T) {
	s := New(Config{Enabled: false}, logx.Nop())
	var fired atomic.Int32
	require.NoError(t, s.AddCron("tick", "* * * * * *", func(context.Context) error {
		fired.Add(1)
		return nil
	}))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	time.Sleep(1200 * time.Millisecond)
	assert.Zero(t, fired.Load())

	s.Apply(Config{Enabled: true})
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
