// Package clock supplies "today" to the scheduler so runs can be replayed
// and tested deterministically.
package clock

import (
	"sync"
	"time"

	"taskcadence/internal/recurrence"
)

type Clock interface {
	Now() time.Time
}

// Real reads the system clock in the practice timezone.
type Real struct {
	Location *time.Location
}

func (c Real) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// Fixed is deterministic and test-friendly.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Fixed) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Today converts c's current instant to a calendar date in loc.
// A nil loc keeps the clock's own location.
func Today(c Clock, loc *time.Location) recurrence.Date {
	now := c.Now()
	if loc != nil {
		now = now.In(loc)
	}
	return recurrence.DateOf(now)
}

// LoadLocation resolves a timezone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
