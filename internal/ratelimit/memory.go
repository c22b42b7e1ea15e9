package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// sweepThreshold bounds how many idle keys accumulate before stale windows
// are dropped. After a sweep the next one waits until the map doubles or
// sweepInterval passes, so live keys are not rescanned on every call.
const (
	sweepThreshold = 10000
	sweepInterval  = time.Minute
)

type counterWindow struct {
	count int64
	start time.Time
	ttl   time.Duration
}

// MemoryCounter keeps fixed-window counters in-process. It is safe for
// concurrent use; counts are never shared across processes.
type MemoryCounter struct {
	mu        sync.Mutex
	now       func() time.Time
	windows   map[string]*counterWindow
	nextSweep int
	lastSweep time.Time
	sweeps    int
}

// NewMemoryCounter builds an empty counter map. A nil clock uses time.Now.
func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{
		now:       now,
		windows:   make(map[string]*counterWindow),
		nextSweep: sweepThreshold,
	}
}

// Incr adds one attempt for key and returns the count inside the current
// window. The window restarts once more than window has elapsed since it
// opened.
func (c *MemoryCounter) Incr(key string, window time.Duration) int64 {
	key = strings.TrimSpace(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldSweepLocked(now) {
		c.sweepLocked(now)
	}
	w, ok := c.windows[key]
	if !ok {
		w = &counterWindow{start: now}
		c.windows[key] = w
	}
	if now.Sub(w.start) > window {
		w.count = 0
		w.start = now
	}
	w.ttl = window
	w.count++
	return w.count
}

// Reset drops every counter.
func (c *MemoryCounter) Reset() {
	c.mu.Lock()
	c.windows = make(map[string]*counterWindow)
	c.nextSweep = sweepThreshold
	c.lastSweep = time.Time{}
	c.mu.Unlock()
}

// Len returns the number of tracked keys.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

func (c *MemoryCounter) shouldSweepLocked(now time.Time) bool {
	size := len(c.windows)
	if size < sweepThreshold {
		return false
	}
	return size >= c.nextSweep || now.Sub(c.lastSweep) >= sweepInterval
}

func (c *MemoryCounter) sweepLocked(now time.Time) {
	for key, w := range c.windows {
		if now.Sub(w.start) > w.ttl {
			delete(c.windows, key)
		}
	}
	c.sweeps++
	c.lastSweep = now
	c.nextSweep = max(sweepThreshold, 2*len(c.windows))
}
