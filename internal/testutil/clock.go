package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when told to.
//
// Tests use it to give records exact created_at values, including ties.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock fixed at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// At parses an RFC 3339 timestamp and returns a clock fixed there.
// Panics on a malformed timestamp (test misconfiguration).
func At(rfc3339 string) *ManualClock {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		panic("testutil.At: " + err.Error())
	}
	return NewManualClock(t)
}

// Now returns the current fixed time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
