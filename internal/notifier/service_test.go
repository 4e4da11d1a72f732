package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcadence/internal/eventbus"
	logx "taskcadence/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	texts    []string
	failures int
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("telegram: 502")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	rc := eventbus.RunCompleted{
		Trigger:    "schedule",
		CheckDate:  "2024-01-29",
		Evaluated:  12,
		Inactive:   2,
		Created:    3,
		Duplicates: 1,
		Failed:     3,
		Failures:   map[string]string{"c": "boom", "a": "invalid rule state", "b": "store unavailable"},
	}
	got := Format(rc, 2)
	assert.Equal(t, "Recurring tasks 2024-01-29 (schedule)\n"+
		"created 3, duplicates 1, failed 3 of 12 evaluated (2 inactive)\n"+
		"Failed rules:\n"+
		"- a: invalid rule state\n"+
		"- b: store unavailable\n"+
		"… and 1 more", got)

	assert.NotContains(t, Format(rc, 0), "Failed rules")
}

func TestServiceSendsRunSummaries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	svc := New(Config{Enabled: true, RatePerSec: 100}, sender, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TypeRunCompleted, Data: eventbus.RunCompleted{CheckDate: "2024-01-01", Evaluated: 5}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunCompleted, Data: eventbus.RunCompleted{CheckDate: "2024-01-02", Evaluated: 5, Created: 2}})

	require.Eventually(t, func() bool {
		sent, skipped, _ := svc.Stats()
		return sent == 1 && skipped == 1
	}, 2*time.Second, 10*time.Millisecond)
	texts := sender.got()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "2024-01-02")
	assert.Contains(t, texts[0], "created 2")

	cancel()
	<-done
}

func TestServiceNotifyIdleAndRetry(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{failures: 2}
	svc := New(Config{Enabled: true, RatePerSec: 100, NotifyIdle: true, RetryMax: 2, RetryBase: time.Millisecond}, sender, nil, logx.Nop())
	defer svc.Close()

	svc.Notify(context.Background(), eventbus.RunCompleted{CheckDate: "2024-01-01"})
	sent, skipped, failed := svc.Stats()
	assert.EqualValues(t, 1, sent)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)

	sender.mu.Lock()
	sender.failures = 5
	sender.mu.Unlock()
	svc.Notify(context.Background(), eventbus.RunCompleted{CheckDate: "2024-01-02"})
	_, _, failed = svc.Stats()
	assert.EqualValues(t, 1, failed)
}

func TestDisabledServiceUsesNopSender(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{Enabled: false}, sender, nil, logx.Nop())
	svc.Notify(context.Background(), eventbus.RunCompleted{Created: 1})
	assert.Empty(t, sender.got())

	_, err := NewTelegram("", 1, 0, true)
	assert.Error(t, err)
	_, err = NewTelegram("123:abc", 0, 0, true)
	assert.Error(t, err)
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}.withDefaults()
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, 1300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 70*time.Millisecond)
	}
}
