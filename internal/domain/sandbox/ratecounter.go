package sandbox

import (
	"sync"
	"time"
)

// RateCounter is a fixed-window counter. The window resets lazily on the first
// call after it expires; it is not a sliding log or a token bucket.
type RateCounter struct {
	mu          sync.Mutex
	limit       uint32
	count       uint32
	windowStart time.Time
	window      time.Duration
	now         func() time.Time
}

// NewRateCounter returns a counter that allows limit operations per window.
func NewRateCounter(limit uint32, window time.Duration) *RateCounter {
	return newRateCounter(limit, window, time.Now)
}

func newRateCounter(limit uint32, window time.Duration, now func() time.Time) *RateCounter {
	return &RateCounter{
		limit:       limit,
		window:      window,
		now:         now,
		windowStart: now(),
	}
}

// Allow records one operation and reports whether it fits in the current window.
func (c *RateCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.windowStart) >= c.window {
		c.windowStart = now
		c.count = 0
	}
	if c.count >= c.limit {
		return false
	}
	c.count++
	return true
}

// Limit returns the configured per-window limit.
func (c *RateCounter) Limit() uint32 {
	return c.limit
}
