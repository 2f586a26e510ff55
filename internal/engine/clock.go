package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock. Every action is stamped with the next
// Seq so that actions recorded in the same instant still have a total order.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a persisted position.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// WallClock supplies createdAt timestamps. testutil.FakeClock satisfies it.
type WallClock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// stamp returns a UTC wall time with the monotonic reading stripped, never
// earlier than last.
func stamp(wall WallClock, last time.Time) time.Time {
	now := wall.Now().UTC().Round(0)
	if now.Before(last) {
		return last
	}
	return now
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
