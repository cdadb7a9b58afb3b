package ledger

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock produces ledger and cache stamps in microseconds since the epoch.
type Clock interface {
	Now() int64
}

// MonotonicClock reads the wall clock at microsecond resolution and never hands
// out the same or a smaller stamp twice within the process.
type MonotonicClock struct {
	last atomic.Int64
}

func (c *MonotonicClock) Now() int64 {
	for {
		now := time.Now().UnixMicro()
		prev := c.last.Load()
		if now <= prev {
			now = prev + 1
		}
		if c.last.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// ManualClock is a Clock driven by the caller, for tests.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(start int64) *ManualClock { return &ManualClock{now: start} }

// Now returns the current stamp and then advances it by one.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.now
	c.now++
	return v
}

// Advance moves the clock forward by d microseconds.
func (c *ManualClock) Advance(d int64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
