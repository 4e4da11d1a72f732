// Package runner executes the generator as a batch: it loads rules, records
// instances, hands them to the task sink, audits the run and announces the
// outcome on the event bus.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskcadence/internal/clock"
	"taskcadence/internal/eventbus"
	"taskcadence/internal/generator"
	"taskcadence/internal/recurrence"
	"taskcadence/internal/storage"
	logx "taskcadence/pkg/logx"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerStartup  Trigger = "startup"
	TriggerManual   Trigger = "manual"
	TriggerBackfill Trigger = "backfill"
)

// MaxBackfillDays bounds one Backfill call.
const MaxBackfillDays = 5 * 366

type Config struct {
	Workers int
	// FailureLogEvery suppresses repeated failure logs for the same rule.
	// Default 1h; negative logs every failure.
	FailureLogEvery time.Duration
	// Location decides what "today" is. Nil means time.Local.
	Location *time.Location
}

type Option func(*Runner)

func WithLogger(l logx.Logger) Option { return func(r *Runner) { r.log = l } }
func WithSink(s Sink) Option          { return func(r *Runner) { r.sink = s } }
func WithBus(b eventbus.Bus) Option   { return func(r *Runner) { r.bus = b } }
func WithClock(c clock.Clock) Option  { return func(r *Runner) { r.clock = c } }

// Report describes one run over one check date.
type Report struct {
	RunID     string
	Trigger   Trigger
	StartedAt time.Time
	Took      time.Duration
	Summary   generator.Summary
	Instances []recurrence.Instance
	Failures  []generator.RuleFailure
	// SinkErrors maps rule ID to the sink error for instances that were
	// recorded but not handed over.
	SinkErrors map[string]string
}

type Runner struct {
	store storage.Store
	gen   *generator.Generator
	sink  Sink
	bus   eventbus.Bus
	clock clock.Clock
	log   logx.Logger

	mu        sync.Mutex
	loc       *time.Location
	failEvery time.Duration

	fmu         sync.Mutex
	lastFailLog map[string]time.Time
	suppressed  map[string]int
}

func New(store storage.Store, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		gen:         generator.New(store, generator.Options{Workers: cfg.Workers}),
		clock:       clock.Real{},
		lastFailLog: map[string]time.Time{},
		suppressed:  map[string]int{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.sink == nil {
		r.sink = LogSink{Log: r.log}
	}
	r.Apply(cfg.Location, cfg.FailureLogEvery)
	return r
}

// Apply updates the hot-reloadable settings.
func (r *Runner) Apply(loc *time.Location, failureLogEvery time.Duration) {
	if loc == nil {
		loc = time.Local
	}
	if failureLogEvery == 0 {
		failureLogEvery = time.Hour
	}
	r.mu.Lock()
	r.loc = loc
	r.failEvery = failureLogEvery
	r.mu.Unlock()
}

// Today is the current calendar date in the configured location.
func (r *Runner) Today() recurrence.Date {
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()
	return clock.Today(r.clock, loc)
}

// RunToday is RunFor(ctx, r.Today()).
func (r *Runner) RunToday(ctx context.Context) (Report, error) {
	return r.Run(ctx, TriggerManual, r.Today())
}

// RunFor runs the batch for one check date.
func (r *Runner) RunFor(ctx context.Context, day recurrence.Date) (Report, error) {
	return r.Run(ctx, TriggerManual, day)
}

// Run is RunFor with an explicit trigger label.
func (r *Runner) Run(ctx context.Context, trigger Trigger, day recurrence.Date) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.run(ctx, trigger, day, storage.NewRuleCache(r.store))
}

// Backfill runs every day in [from, to] in order and stops at the first
// run that could not load its rules. Overlapping backfills are safe: days
// already generated count as duplicates.
func (r *Runner) Backfill(ctx context.Context, from, to recurrence.Date) ([]Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if from.IsZero() || to.IsZero() {
		return nil, errors.New("backfill: from and to are required")
	}
	if to.Before(from) {
		return nil, fmt.Errorf("backfill: to %s is before from %s", to, from)
	}
	days := int(to.Time().Sub(from.Time()).Hours()/24) + 1
	if days > MaxBackfillDays {
		return nil, fmt.Errorf("backfill: %d days exceeds the limit of %d", days, MaxBackfillDays)
	}

	r.log.Info("backfill started", logx.String("from", from.String()), logx.String("to", to.String()), logx.Int("days", days))
	// Rules do not change between days of one backfill.
	cache := storage.NewRuleCache(r.store)
	out := make([]Report, 0, days)
	var created, failed int
	for d := from; !d.After(to); d = d.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rep, err := r.run(ctx, TriggerBackfill, d, cache)
		if err != nil {
			return out, err
		}
		created += rep.Summary.Created
		failed += rep.Summary.Failed
		out = append(out, rep)
	}
	r.log.Info("backfill finished",
		logx.String("from", from.String()),
		logx.String("to", to.String()),
		logx.Int("created", created),
		logx.Int("failed", failed),
	)
	return out, nil
}

func (r *Runner) run(ctx context.Context, trigger Trigger, day recurrence.Date, cache *storage.RuleCache) (Report, error) {
	if day.IsZero() {
		return Report{}, errors.New("runner: check date required")
	}
	rep := Report{
		RunID:     newRunID(),
		Trigger:   trigger,
		StartedAt: r.clock.Now(),
	}
	log := r.log.With(logx.String("run", rep.RunID), logx.String("date", day.String()), logx.String("trigger", string(trigger)))

	rules, err := cache.Active(ctx)
	if err != nil {
		err = fmt.Errorf("load rules: %w", &generator.StoreError{Op: "list_rules", Err: err})
		log.Error("run aborted", logx.Err(err))
		rep.Summary.CheckDate = day
		r.appendRun(ctx, log, rep, []string{err.Error()})
		return rep, err
	}

	res, err := r.gen.Generate(ctx, rules, day)
	if err != nil {
		return rep, err
	}
	rep.Summary = res.Summary
	rep.Instances = res.Instances
	rep.Failures = res.Failures

	for _, inst := range res.Instances {
		rule, err := cache.Get(ctx, inst.RuleID)
		if err == nil {
			err = r.sink.CreateTask(ctx, rule, inst)
		}
		if err != nil {
			if rep.SinkErrors == nil {
				rep.SinkErrors = map[string]string{}
			}
			rep.SinkErrors[inst.RuleID] = err.Error()
			log.Warn("task sink failed", logx.String("rule", inst.RuleID), logx.Err(err))
		}
		r.publish(eventbus.TypeInstanceCreated, instanceEvent(rep.RunID, rule, inst))
	}

	r.logFailures(log, res.Failures)

	rep.Took = r.clock.Now().Sub(rep.StartedAt)
	r.appendRun(ctx, log, rep, runErrors(rep))

	fields := []logx.Field{
		logx.Int("total", rep.Summary.Total),
		logx.Int("evaluated", rep.Summary.Evaluated),
		logx.Int("due", rep.Summary.Due),
		logx.Int("created", rep.Summary.Created),
		logx.Int("duplicates", rep.Summary.Duplicates),
		logx.Int("failed", rep.Summary.Failed),
		logx.Duration("took", rep.Took),
	}
	if rep.Summary.Failed > 0 {
		log.Warn("run finished with failures", fields...)
	} else {
		log.Info("run finished", fields...)
	}

	r.publish(eventbus.TypeRunCompleted, completedEvent(rep))
	return rep, nil
}

func (r *Runner) appendRun(ctx context.Context, log logx.Logger, rep Report, errs []string) {
	rec := storage.RunRecord{
		ID:         rep.RunID,
		Trigger:    string(rep.Trigger),
		CheckDate:  rep.Summary.CheckDate,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.StartedAt.Add(rep.Took),
		Total:      rep.Summary.Total,
		Evaluated:  rep.Summary.Evaluated,
		Due:        rep.Summary.Due,
		Created:    rep.Summary.Created,
		Duplicates: rep.Summary.Duplicates,
		Failed:     rep.Summary.Failed,
		Errors:     errs,
	}
	if err := r.store.AppendRun(ctx, rec); err != nil {
		log.Warn("run audit write failed", logx.Err(err))
	}
}

// logFailures logs each failing rule at most once per failEvery. The next
// log line for a rule carries how many repeats were suppressed.
func (r *Runner) logFailures(log logx.Logger, failures []generator.RuleFailure) {
	if len(failures) == 0 {
		return
	}
	r.mu.Lock()
	every := r.failEvery
	r.mu.Unlock()
	now := r.clock.Now()

	r.fmu.Lock()
	defer r.fmu.Unlock()
	for _, f := range failures {
		key := string(f.Kind) + "|" + f.RuleID
		if every > 0 {
			if last, ok := r.lastFailLog[key]; ok && now.Sub(last) < every {
				r.suppressed[key]++
				continue
			}
		}
		fields := []logx.Field{logx.String("rule", f.RuleID), logx.String("kind", string(f.Kind)), logx.Err(f.Err)}
		if n := r.suppressed[key]; n > 0 {
			fields = append(fields, logx.Int("suppressed", n))
		}
		if f.Kind == generator.FailureInvalidRuleState {
			log.Error("rule skipped", fields...)
		} else {
			log.Warn("rule deferred to next run", fields...)
		}
		r.lastFailLog[key] = now
		delete(r.suppressed, key)
	}
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clock.Now(), Data: data})
}

func runErrors(rep Report) []string {
	var out []string
	for _, f := range rep.Failures {
		out = append(out, f.Error())
	}
	ids := make([]string, 0, len(rep.SinkErrors))
	for id := range rep.SinkErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, fmt.Sprintf("rule %s: sink: %s", id, rep.SinkErrors[id]))
	}
	return out
}

func completedEvent(rep Report) eventbus.RunCompleted {
	ev := eventbus.RunCompleted{
		RunID:      rep.RunID,
		Trigger:    string(rep.Trigger),
		CheckDate:  rep.Summary.CheckDate.String(),
		Took:       rep.Took,
		Total:      rep.Summary.Total,
		Inactive:   rep.Summary.Inactive,
		Evaluated:  rep.Summary.Evaluated,
		Due:        rep.Summary.Due,
		Created:    rep.Summary.Created,
		Duplicates: rep.Summary.Duplicates,
		Failed:     rep.Summary.Failed,
	}
	if len(rep.Failures) > 0 {
		ev.Failures = make(map[string]string, len(rep.Failures))
		for _, f := range rep.Failures {
			ev.Failures[f.RuleID] = f.Err.Error()
		}
	}
	return ev
}

func instanceEvent(runID string, rule recurrence.Rule, inst recurrence.Instance) eventbus.InstanceCreated {
	ev := eventbus.InstanceCreated{
		RunID:          runID,
		RuleID:         inst.RuleID,
		Title:          rule.Template.Title,
		OccurrenceDate: inst.OccurrenceDate.String(),
		DueDate:        inst.DueDate.String(),
	}
	if inst.TargetDate != nil {
		ev.TargetDate = inst.TargetDate.String()
	}
	return ev
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
