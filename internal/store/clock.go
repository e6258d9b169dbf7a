package store

import "sync/atomic"

// Clock is the ledger's monotonic logical clock. Rows are ordered by the seq
// it hands out, never by wall time.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock that resumes after start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
