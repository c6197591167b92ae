// Package clock abstracts the time source behind timer backends, so the
// same machine can run against the wall clock in production and a manual
// clock in tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type system struct{}

func (system) Now() time.Time        { return time.Now() }
func (system) Sleep(d time.Duration) { time.Sleep(d) }

// System returns the wall clock.
func System() Clock {
	return system{}
}

// Manual is a Clock that moves only when advanced. It is safe for
// concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock starting at start, or at the Unix
// epoch when start is the zero time.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return &Manual{now: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t. The clock never moves backwards.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}

// Sleep advances the clock by d instead of blocking.
func (c *Manual) Sleep(d time.Duration) {
	c.Advance(d)
}
