// Package generator turns active recurrence rules into task instances for a
// check date, at most one per (rule, occurrence date).
//
// The generator is stateless between calls; the instance store is the only
// memory it has. It does not log: per-rule failures are returned in the
// Result and surfaced by the caller.
package generator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"taskcadence/internal/recurrence"
)

// InstanceStore is the idempotency/instance store.
//
// RecordInstance must be an atomic insert-if-absent keyed by
// inst.IdempotencyKey: it reports created=false when the key already exists,
// including when a concurrent caller won the race.
type InstanceStore interface {
	HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error)
	RecordInstance(ctx context.Context, inst recurrence.Instance) (created bool, err error)
}

type Options struct {
	// Workers bounds how many rules are evaluated concurrently. Default 4.
	Workers int
}

type Generator struct {
	store   InstanceStore
	workers int
}

func New(store InstanceStore, opt Options) *Generator {
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	return &Generator{store: store, workers: opt.Workers}
}

// Summary holds the per-run counters the batch caller reports to operators.
type Summary struct {
	CheckDate  recurrence.Date `json:"check_date"`
	Total      int             `json:"total"`
	Inactive   int             `json:"inactive"`
	Evaluated  int             `json:"evaluated"`
	Due        int             `json:"due"`
	Created    int             `json:"created"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
}

// Result of one Generate call. Instances are the newly recorded ones only,
// sorted by rule ID.
type Result struct {
	Summary   Summary
	Instances []recurrence.Instance
	Failures  []RuleFailure
}

// Generate evaluates every active rule against checkDate and records one
// instance per due rule. A failing rule never stops the others; its error
// lands in Result.Failures. The returned error is reserved for unusable
// arguments.
func (g *Generator) Generate(ctx context.Context, rules []recurrence.Rule, checkDate recurrence.Date) (Result, error) {
	if g == nil || g.store == nil {
		return Result{}, errors.New("generator: instance store required")
	}
	if checkDate.IsZero() {
		return Result{}, errors.New("generator: check date required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		mu  sync.Mutex
		res = Result{Summary: Summary{CheckDate: checkDate, Total: len(rules)}}
	)

	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i := range rules {
		r := rules[i]
		if !r.IsActive {
			mu.Lock()
			res.Summary.Inactive++
			mu.Unlock()
			continue
		}
		eg.Go(func() error {
			out := g.evaluate(ctx, r, checkDate)
			mu.Lock()
			res.apply(out)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(res.Instances, func(i, j int) bool { return res.Instances[i].RuleID < res.Instances[j].RuleID })
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].RuleID < res.Failures[j].RuleID })
	return res, nil
}

type outcome struct {
	due       bool
	duplicate bool
	inst      *recurrence.Instance
	failure   *RuleFailure
}

func (res *Result) apply(o outcome) {
	res.Summary.Evaluated++
	if o.failure != nil {
		res.Summary.Failed++
		res.Failures = append(res.Failures, *o.failure)
		return
	}
	if !o.due {
		return
	}
	res.Summary.Due++
	if o.duplicate {
		res.Summary.Duplicates++
		return
	}
	if o.inst != nil {
		res.Summary.Created++
		res.Instances = append(res.Instances, *o.inst)
	}
}

func (g *Generator) evaluate(ctx context.Context, r recurrence.Rule, day recurrence.Date) outcome {
	if r.ID == "" {
		return outcome{failure: invalidRule(r.ID, &recurrence.InvalidRuleStateError{Field: "id"})}
	}
	inst, ok, err := recurrence.Evaluate(r, day)
	if err != nil {
		return outcome{failure: invalidRule(r.ID, err)}
	}
	if !ok {
		return outcome{}
	}

	has, err := g.store.HasInstance(ctx, r.ID, day)
	if err != nil {
		return outcome{due: true, failure: storeFailure(r.ID, "has_instance", err)}
	}
	if has {
		return outcome{due: true, duplicate: true}
	}
	created, err := g.store.RecordInstance(ctx, inst)
	if err != nil {
		return outcome{due: true, failure: storeFailure(r.ID, "record_instance", err)}
	}
	if !created {
		// Lost the insert race to a concurrent run.
		return outcome{due: true, duplicate: true}
	}
	return outcome{due: true, inst: &inst}
}
