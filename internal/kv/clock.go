package kv

import "sync/atomic"

// SeqClock stamps change notifications with a strictly increasing sequence
// number.
type SeqClock interface {
	Next() int64
}

// Clock is a monotonic logical clock.
//
// Every commit that changes at least one key takes exactly one seq, and
// every batch of externally reported keys takes one. Observers use the seq
// to discard a read that is older than a notification they already applied.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
