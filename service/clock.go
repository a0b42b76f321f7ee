package service

import (
	"sync"
	"time"
)

// Clock reports the latest tick time it has seen. It never moves
// backwards; before the first Set it reports its start time, or wall time
// when that is zero.
type Clock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.t.IsZero() {
		return time.Now()
	}
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}
