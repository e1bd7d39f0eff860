package seglog

import (
	"sync/atomic"
	"time"
)

// monotonicClock hands out unix millisecond timestamps that never decrease,
// even if the wall clock is set back.
type monotonicClock struct {
	now  func() time.Time
	last atomic.Int64
}

func newMonotonicClock(now func() time.Time, floor int64) *monotonicClock {
	c := &monotonicClock{now: now}
	c.last.Store(floor)
	return c
}

// Millis returns the current time in unix milliseconds, at least the last returned value
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *monotonicClock) Millis() int64 {
	for {
		last := c.last.Load()
		now := c.now().UnixMilli()
		if now < last {
			now = last
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// advanceTo raises the floor of the clock to t
func (c *monotonicClock) advanceTo(t int64) {
	for {
		last := c.last.Load()
		if t <= last || c.last.CompareAndSwap(last, t) {
			return
		}
	}
}
