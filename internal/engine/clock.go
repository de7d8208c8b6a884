package engine

import "sync/atomic"

// Clock is the logical clock that orders a pass's diagnostics.
//
// Every diagnostic is stamped with a strictly increasing seq, so a pass
// report reads in the order things happened regardless of wall-clock
// resolution, and two runs of the same scenario stamp identically.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number, for
// continuing a sequence across passes.
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
