package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryCounterWindowResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCounter(clock.Now)
	for i := int64(1); i <= 3; i++ {
		if got := c.Incr("k", time.Minute); got != i {
			t.Fatalf("expected count %d, got %d", i, got)
		}
	}
	clock.Advance(time.Minute + time.Second)
	if got := c.Incr("k", time.Minute); got != 1 {
		t.Fatalf("expected window to reset, got %d", got)
	}
}

func TestMemoryCounterLiveKeysDoNotSweepEveryCall(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCounter(clock.Now)
	const live = 2 * sweepThreshold
	for i := 0; i < live; i++ {
		c.Incr(fmt.Sprintf("contact:ip-%d", i), time.Hour)
	}
	if c.Len() != live {
		t.Fatalf("expected %d live keys, got %d", live, c.Len())
	}

	before := c.sweeps
	for i := 0; i < 2000; i++ {
		c.Incr(fmt.Sprintf("contact:ip-%d", i%live), time.Hour)
	}
	if n := c.sweeps - before; n > 1 {
		t.Fatalf("2000 calls over live keys swept %d times", n)
	}
	if c.sweeps > 2 {
		t.Fatalf("%d live keys swept %d times", live, c.sweeps)
	}
}

func TestMemoryCounterConcurrentIncrements(t *testing.T) {
	counter := NewMemoryCounter(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				counter.Incr("shared", time.Minute)
			}
		}()
	}
	wg.Wait()
	if got := counter.Incr("shared", time.Minute); got != 1001 {
		t.Fatalf("lost increments: got %d want 1001", got)
	}
}

func TestMemoryCounterSweepsStaleKeys(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	counter := NewMemoryCounter(clock.Now)
	for i := 0; i < sweepThreshold; i++ {
		counter.Incr(fmt.Sprintf("ip-%d", i), time.Second)
	}
	clock.Advance(2 * time.Second)
	counter.Incr("fresh", time.Second)
	if got := counter.Len(); got != 1 {
		t.Fatalf("expected stale keys to be swept, got %d keys", got)
	}
	counter.Reset()
	if got := counter.Len(); got != 0 {
		t.Fatalf("expected empty counter after reset, got %d", got)
	}
}
