package httpapi

import (
	"sync"
	"time"
)

// Cooldown admits one call per interval. A zero interval admits everything.
type Cooldown struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewCooldown constructs a limiter that spaces calls at least interval apart.
func NewCooldown(interval time.Duration, timeSource func() time.Time) *Cooldown {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &Cooldown{interval: interval, now: timeSource}
}

// Allow reports whether the caller may proceed and starts a new cooldown if so.
func (c *Cooldown) Allow() bool {
	if c == nil || c.interval <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.interval {
		return false
	}
	c.last = now
	return true
}

// RetryAfter reports how long until the next call is admitted.
func (c *Cooldown) RetryAfter() time.Duration {
	if c == nil || c.interval <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.IsZero() {
		return 0
	}
	return max(c.interval-c.now().Sub(c.last), 0)
}
