package fakes

import (
	"sync"
	"time"
)

// Clock is a manual clock. After fires immediately and advances the time,
// so polling loops run without sleeping.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

// NewClock creates a clock set to now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.Sleeps = append(c.Sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Slept returns the number of waits taken
func (c *Clock) Slept() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sleeps)
}
