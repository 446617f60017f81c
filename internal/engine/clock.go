package engine

import "sync/atomic"

// Clock issues the logical sequence numbers stamped on every journal row and
// trace event. Sequence numbers replace wall clocks everywhere ordering
// matters: they are strictly increasing, survive restarts through
// NewClockAt, and make traces byte-stable across runs.
//
// Thread-safety: atomic, safe from any goroutine, though the single-writer
// loop is normally the only caller of Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at zero; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming above start. Warm start uses it with
// the journal's highest recorded sequence so new rows never collide with
// journaled ones.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// AdvanceTo moves the clock forward to at least seq. Never moves it back, so
// resuming over an already-advanced clock is safe.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Current returns the last issued sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
