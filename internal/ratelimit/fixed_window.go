package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Options configures a Limiter. An empty RedisAddr runs on the in-process
// counters only.
type Options struct {
	RedisAddr     string
	RedisPassword string
	Prefix        string
	// Timeout bounds every Redis round trip.
	Timeout time.Duration
	// ProbeInterval is how often a degraded limiter pings Redis to detect
	// that it is reachable again.
	ProbeInterval time.Duration
	Clock         func() time.Time
	// OnBackendChange is called with BackendRedis or BackendMemory whenever
	// the active backend switches.
	OnBackendChange func(backend string)
}

// Limiter counts attempts per key in fixed windows. Redis is the primary
// backend; any Redis failure demotes the limiter to in-process counters
// until Redis answers a probe again. Allow never fails the caller.
type Limiter struct {
	redisClient   *redis.Client
	redisPrefix   string
	timeout       time.Duration
	probeInterval time.Duration
	local         *MemoryCounter
	onChange      func(string)

	degraded  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New builds a limiter. The Redis client connects lazily on first use.
func New(opts Options) *Limiter {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "folio:ratelimit"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	probe := opts.ProbeInterval
	if probe <= 0 {
		probe = 30 * time.Second
	}
	l := &Limiter{
		redisPrefix:   prefix,
		timeout:       timeout,
		probeInterval: probe,
		local:         NewMemoryCounter(opts.Clock),
		onChange:      opts.OnBackendChange,
		done:          make(chan struct{}),
	}
	addr := strings.TrimSpace(opts.RedisAddr)
	if addr == "" {
		l.degraded.Store(true)
		return l
	}
	l.redisClient = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.RedisPassword,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
	return l
}

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int
}

// Remaining is how many further attempts fit in the current window.
func (d Decision) Remaining() int {
	if d.Limit <= 0 {
		return 0
	}
	left := int64(d.Limit) - d.Count
	if left < 0 {
		return 0
	}
	return int(left)
}

// Allow records one attempt for key and reports whether it is within limit
// for the window. Non-positive limit or window allows everything.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	return l.Take(ctx, key, limit, window).Allowed
}

// Take is Allow with the counter value exposed for response headers.
func (l *Limiter) Take(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if l == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if l.redisClient != nil && !l.degraded.Load() {
		count, err := l.incrRedis(ctx, key, window)
		if err == nil {
			return Decision{Allowed: count <= int64(limit), Count: count, Limit: limit}
		}
		if ctx.Err() == nil {
			l.demote(err)
		}
	}
	count := l.local.Incr(key, window)
	return Decision{Allowed: count <= int64(limit), Count: count, Limit: limit}
}

// Backend reports which counter store is currently serving decisions.
func (l *Limiter) Backend() string {
	if l == nil || l.redisClient == nil || l.degraded.Load() {
		return BackendMemory
	}
	return BackendRedis
}

// Local exposes the in-process counters, mainly for tests and resets.
func (l *Limiter) Local() *MemoryCounter {
	return l.local
}

// Close stops recovery probing and releases the Redis client.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.redisClient != nil {
			err = l.redisClient.Close()
		}
	})
	return err
}

func (l *Limiter) incrRedis(ctx context.Context, key string, window time.Duration) (int64, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	redisKey := fmt.Sprintf("%s:%s", l.redisPrefix, key)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
}

func (l *Limiter) demote(err error) {
	if !l.degraded.CompareAndSwap(false, true) {
		return
	}
	slog.Warn("rate limiter falling back to in-memory counters", "err", err)
	l.notify(BackendMemory)
	go l.recover()
}

// recover pings Redis until it answers, then restores it as the primary.
func (l *Limiter) recover() {
	ticker := time.NewTicker(l.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			continue
		}
		if l.degraded.CompareAndSwap(true, false) {
			slog.Info("rate limiter restored redis backend")
			l.notify(BackendRedis)
		}
		return
	}
}

func (l *Limiter) notify(backend string) {
	if l.onChange != nil {
		l.onChange(backend)
	}
}
