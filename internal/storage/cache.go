package storage

import (
	"context"
	"sync"

	"taskcadence/internal/recurrence"
)

// RuleCache memoizes rule reads for the lifetime of one run or backfill.
// It is not shared between runs; writers call Invalidate after changing a
// rule through the underlying store.
type RuleCache struct {
	store RuleStore

	mu     sync.Mutex
	active []recurrence.Rule
	loaded bool
	byID   map[string]recurrence.Rule
}

func NewRuleCache(store RuleStore) *RuleCache {
	return &RuleCache{store: store, byID: map[string]recurrence.Rule{}}
}

// Active returns the active rules, loading them from the store on first use.
func (c *RuleCache) Active(ctx context.Context) ([]recurrence.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		rules, err := c.store.ListRules(ctx, true)
		if err != nil {
			return nil, err
		}
		c.active = rules
		c.loaded = true
		for _, r := range rules {
			c.byID[r.ID] = r
		}
	}
	out := make([]recurrence.Rule, len(c.active))
	copy(out, c.active)
	return out, nil
}

// Get returns one rule, active or not.
func (c *RuleCache) Get(ctx context.Context, id string) (recurrence.Rule, error) {
	c.mu.Lock()
	if r, ok := c.byID[id]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := c.store.GetRule(ctx, id)
	if err != nil {
		return recurrence.Rule{}, err
	}
	c.mu.Lock()
	c.byID[id] = r
	c.mu.Unlock()
	return r, nil
}

// Invalidate drops everything cached.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.loaded = false
	c.byID = map[string]recurrence.Rule{}
}
