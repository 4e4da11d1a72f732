package notifier

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskcadence/internal/eventbus"
	logx "taskcadence/pkg/logx"
)

// Service turns run.completed events into operator messages.
//
// It subscribes in New so no run published before Run starts is lost, as
// long as it fits the queue.
type Service struct {
	log    logx.Logger
	sender Sender
	cfg    Config

	limiter *rate.Limiter

	events <-chan eventbus.Event
	unsub  func()
	once   sync.Once

	sent    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil || !cfg.Enabled {
		sender = NopSender{}
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:    log,
		sender: sender,
		cfg:    cfg,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		unsub:   func() {},
	}
	if bus != nil {
		s.events, s.unsub = bus.Subscribe(cfg.QueueSize, eventbus.TypeRunCompleted)
	}
	return s
}

// Run delivers summaries until ctx is done, then unsubscribes.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()
	if s.events == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			rc, ok := ev.Data.(eventbus.RunCompleted)
			if !ok {
				continue
			}
			s.Notify(ctx, rc)
		}
	}
}

// Close unsubscribes from the bus. Safe to call more than once.
func (s *Service) Close() {
	s.once.Do(s.unsub)
}

// Notify renders and sends one run summary, honoring NotifyIdle, the rate
// limit and the retry policy.
func (s *Service) Notify(ctx context.Context, rc eventbus.RunCompleted) {
	if !s.cfg.NotifyIdle && rc.Created == 0 && rc.Failed == 0 {
		s.skipped.Add(1)
		return
	}
	text := Format(rc, s.cfg.MaxFailuresListed)

	maxAttempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.sender.Send(callCtx, text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.failed.Add(1)
	s.log.Warn("run summary not delivered", logx.String("run", rc.RunID), logx.Err(lastErr))
}

// Stats returns delivered, skipped-idle and undeliverable message counts.
func (s *Service) Stats() (sent, skipped, failed uint64) {
	return s.sent.Load(), s.skipped.Load(), s.failed.Load()
}

// Format renders a run summary. At most maxFailures failing rules are
// listed; 0 lists none.
func Format(rc eventbus.RunCompleted, maxFailures int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurring tasks %s (%s)\n", rc.CheckDate, rc.Trigger)
	fmt.Fprintf(&b, "created %d, duplicates %d, failed %d of %d evaluated", rc.Created, rc.Duplicates, rc.Failed, rc.Evaluated)
	if rc.Inactive > 0 {
		fmt.Fprintf(&b, " (%d inactive)", rc.Inactive)
	}
	if len(rc.Failures) > 0 && maxFailures > 0 {
		ids := make([]string, 0, len(rc.Failures))
		for id := range rc.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\nFailed rules:")
		for i, id := range ids {
			if i == maxFailures {
				fmt.Fprintf(&b, "\n… and %d more", len(ids)-maxFailures)
				break
			}
			fmt.Fprintf(&b, "\n- %s: %s", id, rc.Failures[id])
		}
	}
	return b.String()
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return d
}
