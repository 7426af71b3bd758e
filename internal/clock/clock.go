// Package clock supplies timestamps and sequence numbers for orders,
// positions and events.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock hands out non-decreasing timestamps and strictly increasing
// sequence numbers.
type Clock interface {
	Now() time.Time
	Next() uint64
}

// System is the wall clock, clamped so that Now never goes backwards.
type System struct {
	seq  atomic.Uint64
	mu   sync.Mutex
	last time.Time
}

func NewSystem() *System {
	return &System{}
}

func (c *System) Now() time.Time {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// Next returns the next sequence number, starting at 1.
func (c *System) Next() uint64 {
	return c.seq.Add(1)
}

// Manual is a settable clock for tests and replays.
type Manual struct {
	seq atomic.Uint64
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Manual) Next() uint64 {
	return c.seq.Add(1)
}

// Advance moves the clock forward; negative durations are ignored.
func (c *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps to t unless t is earlier than the current time.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.UTC().After(c.now) {
		c.now = t.UTC()
	}
}
