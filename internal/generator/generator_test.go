package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcadence/internal/recurrence"
)

type fakeStore struct {
	mu       sync.Mutex
	byKey    map[string]recurrence.Instance
	failFor  map[string]error
	calls    atomic.Int64
	hideHits bool // HasInstance always reports false, to force the insert race path
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: map[string]recurrence.Instance{}, failFor: map[string]error{}}
}

func (s *fakeStore) HasInstance(_ context.Context, ruleID string, on recurrence.Date) (bool, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[ruleID]; err != nil {
		return false, err
	}
	if s.hideHits {
		return false, nil
	}
	_, ok := s.byKey[recurrence.IdempotencyKey(ruleID, on)]
	return ok, nil
}

func (s *fakeStore) RecordInstance(_ context.Context, inst recurrence.Instance) (bool, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[inst.IdempotencyKey]; ok {
		return false, nil
	}
	s.byKey[inst.IdempotencyKey] = inst
	return true, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func monthlyRule(t *testing.T, id string, day int) recurrence.Rule {
	t.Helper()
	r, err := recurrence.NewRule(recurrence.Input{ID: id, Frequency: recurrence.Monthly, DayOfMonth: recurrence.Int(day), DueDateOffset: 5}, recurrence.NewDate(2024, 1, 1))
	require.NoError(t, err)
	return r
}

func TestGenerateIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	g := New(store, Options{Workers: 2})
	rules := []recurrence.Rule{monthlyRule(t, "a", 29), monthlyRule(t, "b", 1)}
	day := recurrence.NewDate(2024, 1, 29)

	first, err := g.Generate(context.Background(), rules, day)
	require.NoError(t, err)
	require.Len(t, first.Instances, 1)
	assert.Equal(t, "a", first.Instances[0].RuleID)
	assert.Equal(t, recurrence.NewDate(2024, 2, 3), first.Instances[0].DueDate)
	assert.Equal(t, Summary{CheckDate: day, Total: 2, Evaluated: 2, Due: 1, Created: 1}, first.Summary)

	second, err := g.Generate(context.Background(), rules, day)
	require.NoError(t, err)
	assert.Empty(t, second.Instances)
	assert.Equal(t, 1, second.Summary.Duplicates)
	assert.Equal(t, 1, store.count())
}

func TestGenerateSkipsInactiveRules(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := monthlyRule(t, "off", 29)
	r.IsActive = false
	// A broken inactive rule must not even be evaluated.
	broken := recurrence.Rule{ID: "broken", Frequency: recurrence.Weekly}

	res, err := New(store, Options{}).Generate(context.Background(), []recurrence.Rule{r, broken}, recurrence.NewDate(2024, 1, 29))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.Inactive)
	assert.Zero(t, res.Summary.Evaluated)
	assert.Empty(t, res.Failures)
	assert.Zero(t, store.calls.Load())
}

func TestGenerateIsolatesRuleFailures(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.failFor["down"] = errors.New("connection refused")

	broken := recurrence.Rule{ID: "broken", Frequency: recurrence.Weekly, Interval: 1, StartDate: recurrence.NewDate(2024, 1, 1), IsActive: true}
	rules := []recurrence.Rule{broken, monthlyRule(t, "down", 29), monthlyRule(t, "ok", 29)}

	res, err := New(store, Options{Workers: 3}).Generate(context.Background(), rules, recurrence.NewDate(2024, 1, 29))
	require.NoError(t, err)

	require.Len(t, res.Instances, 1)
	assert.Equal(t, "ok", res.Instances[0].RuleID)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "broken", res.Failures[0].RuleID)
	assert.Equal(t, FailureInvalidRuleState, res.Failures[0].Kind)
	assert.ErrorIs(t, res.Failures[0], recurrence.ErrInvalidRuleState)
	assert.Equal(t, "down", res.Failures[1].RuleID)
	assert.Equal(t, FailureStoreUnavailable, res.Failures[1].Kind)
	assert.ErrorIs(t, res.Failures[1], ErrStoreUnavailable)
	assert.Equal(t, 2, res.Summary.Failed)
	assert.Equal(t, 1, res.Summary.Created)
}

func TestGenerateLostInsertRaceCountsAsDuplicate(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.hideHits = true
	g := New(store, Options{})
	rules := []recurrence.Rule{monthlyRule(t, "a", 29)}
	day := recurrence.NewDate(2024, 1, 29)

	_, err := g.Generate(context.Background(), rules, day)
	require.NoError(t, err)
	res, err := g.Generate(context.Background(), rules, day)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Duplicates)
	assert.Zero(t, res.Summary.Created)
}

func TestGenerateConcurrentRunsEmitOncePerKey(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.hideHits = true
	rules := make([]recurrence.Rule, 0, 100)
	for i := 0; i < 100; i++ {
		rules = append(rules, monthlyRule(t, fmt.Sprintf("r%03d", i), 29))
	}
	day := recurrence.NewDate(2024, 1, 29)

	var (
		wg      sync.WaitGroup
		created atomic.Int64
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := New(store, Options{Workers: 8}).Generate(context.Background(), rules, day)
			if err == nil {
				created.Add(int64(res.Summary.Created))
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 100, created.Load())
	assert.Equal(t, 100, store.count())
}

func TestGenerateRejectsUnusableArguments(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Options{}).Generate(context.Background(), nil, recurrence.NewDate(2024, 1, 1))
	assert.Error(t, err)
	_, err = New(newFakeStore(), Options{}).Generate(context.Background(), nil, recurrence.Date{})
	assert.Error(t, err)
}
