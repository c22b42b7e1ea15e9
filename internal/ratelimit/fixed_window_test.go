package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiterRedisBoundary(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter := New(Options{RedisAddr: redis.Addr(), Prefix: "test:ratelimit"})
	defer limiter.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, "ip-1", 5, time.Second) {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if limiter.Allow(ctx, "ip-1", 5, time.Second) {
		t.Fatalf("6th request should be blocked")
	}
	if got := limiter.Backend(); got != BackendRedis {
		t.Fatalf("backend = %q, want redis", got)
	}
	if ttl := redis.TTL("test:ratelimit:ip-1"); ttl <= 0 || ttl > time.Second {
		t.Fatalf("unexpected key ttl: %v", ttl)
	}

	redis.FastForward(time.Second + time.Millisecond)
	if !limiter.Allow(ctx, "ip-1", 5, time.Second) {
		t.Fatalf("request after window should pass")
	}
}

func TestLimiterRedisKeysAreIndependent(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter := New(Options{RedisAddr: redis.Addr(), Prefix: "test:ratelimit"})
	defer limiter.Close()
	ctx := context.Background()

	if !limiter.Allow(ctx, "contact|ip-1", 1, time.Minute) {
		t.Fatalf("first contact request should pass")
	}
	if limiter.Allow(ctx, "contact|ip-1", 1, time.Minute) {
		t.Fatalf("second contact request should be blocked")
	}
	if !limiter.Allow(ctx, "login|ip-1", 1, time.Minute) {
		t.Fatalf("login key must not share the contact counter")
	}
}

func TestLimiterMemoryBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := New(Options{Clock: clock.Now})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, "ip-1", 5, time.Second) {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if limiter.Allow(ctx, "ip-1", 5, time.Second) {
		t.Fatalf("6th request should be blocked")
	}
	clock.Advance(time.Second)
	if limiter.Allow(ctx, "ip-1", 5, time.Second) {
		t.Fatalf("window is still open exactly at its length")
	}
	clock.Advance(time.Millisecond)
	if !limiter.Allow(ctx, "ip-1", 5, time.Second) {
		t.Fatalf("request after window should pass")
	}
	if got := limiter.Backend(); got != BackendMemory {
		t.Fatalf("backend = %q, want memory", got)
	}
}

func TestLimiterDegradesWhenRedisUnavailable(t *testing.T) {
	redis := miniredis.RunT(t)
	var mu sync.Mutex
	var changes []string
	limiter := New(Options{
		RedisAddr:     redis.Addr(),
		Prefix:        "test:ratelimit",
		Timeout:       200 * time.Millisecond,
		ProbeInterval: time.Hour,
		OnBackendChange: func(backend string) {
			mu.Lock()
			changes = append(changes, backend)
			mu.Unlock()
		},
	})
	defer limiter.Close()
	redis.Close()
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1", 1, time.Minute) {
		t.Fatalf("first request should pass through fallback")
	}
	if limiter.Allow(ctx, "ip-1", 1, time.Minute) {
		t.Fatalf("fallback must still enforce the limit")
	}
	if !limiter.Allow(ctx, "ip-2", 1, time.Minute) {
		t.Fatalf("new identity should be tracked independently")
	}
	if got := limiter.Backend(); got != BackendMemory {
		t.Fatalf("backend = %q, want memory after failure", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0] != BackendMemory {
		t.Fatalf("unexpected backend changes: %v", changes)
	}
}

func TestLimiterRestoresRedisAfterProbe(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter := New(Options{
		RedisAddr:     redis.Addr(),
		Prefix:        "test:ratelimit",
		Timeout:       200 * time.Millisecond,
		ProbeInterval: 10 * time.Millisecond,
	})
	defer limiter.Close()
	ctx := context.Background()

	redis.Close()
	limiter.Allow(ctx, "ip-1", 10, time.Minute)
	if got := limiter.Backend(); got != BackendMemory {
		t.Fatalf("backend = %q, want memory", got)
	}
	if err := redis.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for limiter.Backend() != BackendRedis {
		if time.Now().After(deadline) {
			t.Fatalf("limiter did not restore redis backend")
		}
		time.Sleep(10 * time.Millisecond)
	}
	limiter.Allow(ctx, "ip-9", 10, time.Minute)
	if got, err := redis.Get("test:ratelimit:ip-9"); err != nil || got != "1" {
		t.Fatalf("expected redis counter after restore, got %q err=%v", got, err)
	}
}

func TestLimiterInvalidArgumentsAllow(t *testing.T) {
	limiter := New(Options{})
	if !limiter.Allow(context.Background(), "", 0, time.Second) {
		t.Fatalf("zero limit should allow")
	}
	if !limiter.Allow(context.Background(), "", 1, 0) {
		t.Fatalf("zero window should allow")
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow(context.Background(), "ip", 1, time.Second) {
		t.Fatalf("nil limiter should allow")
	}
}

func TestLimiterTakeReportsRemaining(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := New(Options{Clock: clock.Now})
	defer limiter.Close()
	ctx := context.Background()

	first := limiter.Take(ctx, "contact:1.2.3.4", 5, time.Hour)
	if !first.Allowed || first.Count != 1 || first.Remaining() != 4 {
		t.Fatalf("unexpected first decision: %+v remaining=%d", first, first.Remaining())
	}
	for i := 0; i < 5; i++ {
		limiter.Take(ctx, "contact:1.2.3.4", 5, time.Hour)
	}
	last := limiter.Take(ctx, "contact:1.2.3.4", 5, time.Hour)
	if last.Allowed || last.Remaining() != 0 {
		t.Fatalf("expected exhausted decision, got %+v", last)
	}
}
