package testutil

import (
	"sync"
	"time"
)

// Clock is a settable clock for deterministic tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at the given number of microseconds since the epoch.
func NewClock(micros int64) *Clock {
	return &Clock{now: time.UnixMicro(micros)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(micros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMicro(micros)
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
