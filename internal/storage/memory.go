package storage

import (
	"context"
	"sort"
	"sync"

	"taskcadence/internal/recurrence"
)

// state is the in-memory index shared by the memory and file drivers.
// Callers hold the owning store's lock.
type state struct {
	rules     map[string]recurrence.Rule
	instances map[string]recurrence.Instance // by idempotency key
	runs      []RunRecord
}

func newState() *state {
	return &state{
		rules:     map[string]recurrence.Rule{},
		instances: map[string]recurrence.Instance{},
	}
}

func (s *state) listRules(activeOnly bool) []recurrence.Rule {
	out := make([]recurrence.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, cloneRule(r))
	}
	sortRules(out)
	return out
}

func (s *state) getRule(id string) (recurrence.Rule, error) {
	r, ok := s.rules[id]
	if !ok {
		return recurrence.Rule{}, ErrNotFound
	}
	return cloneRule(r), nil
}

func (s *state) hasInstance(ruleID string, on recurrence.Date) bool {
	_, ok := s.instances[recurrence.IdempotencyKey(ruleID, on)]
	return ok
}

func (s *state) listInstances(ruleID string) []recurrence.Instance {
	out := make([]recurrence.Instance, 0)
	for _, in := range s.instances {
		if ruleID != "" && in.RuleID != ruleID {
			continue
		}
		out = append(out, cloneInstance(in))
	}
	sortInstances(out)
	return out
}

func sortRules(rs []recurrence.Rule) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

func sortInstances(is []recurrence.Instance) {
	sort.Slice(is, func(i, j int) bool {
		if c := is[i].OccurrenceDate.Compare(is[j].OccurrenceDate); c != 0 {
			return c < 0
		}
		return is[i].RuleID < is[j].RuleID
	})
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store { return &memoryStore{st: newState()} }

func (m *memoryStore) ListRules(ctx context.Context, activeOnly bool) ([]recurrence.Rule, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.listRules(activeOnly), nil
}

func (m *memoryStore) GetRule(ctx context.Context, id string) (recurrence.Rule, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recurrence.Rule{}, ErrClosed
	}
	return m.st.getRule(id)
}

func (m *memoryStore) PutRule(ctx context.Context, r recurrence.Rule) error {
	_ = ctx
	if err := checkRule(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.rules[r.ID] = cloneRule(r)
	return nil
}

func (m *memoryStore) DeleteRule(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.st.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.st.rules, id)
	return nil
}

func (m *memoryStore) HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.st.hasInstance(ruleID, on), nil
}

func (m *memoryStore) RecordInstance(ctx context.Context, inst recurrence.Instance) (bool, error) {
	_ = ctx
	if err := checkInstance(inst); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.st.instances[inst.IdempotencyKey]; ok {
		return false, nil
	}
	m.st.instances[inst.IdempotencyKey] = cloneInstance(inst)
	return true, nil
}

func (m *memoryStore) ListInstances(ctx context.Context, ruleID string) ([]recurrence.Instance, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.listInstances(ruleID), nil
}

func (m *memoryStore) AppendRun(ctx context.Context, rec RunRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.runs = append(m.st.runs, rec.withID())
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
