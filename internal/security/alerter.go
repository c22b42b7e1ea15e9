package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"folio/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events per client and reports when an
// event crosses its alert threshold. Counters live in Redis when an address
// is configured and reachable, otherwise in-process.
type AuditAlerter struct {
	redisClient *redis.Client
	local       *ratelimit.MemoryCounter
	prefix      string
	timeout     time.Duration
}

// NewAuditAlerter creates an alerter. An empty addr keeps counters local.
func NewAuditAlerter(addr, password, prefix string) *AuditAlerter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "folio:alerts"
	}
	a := &AuditAlerter{
		local:   ratelimit.NewMemoryCounter(nil),
		prefix:  prefix,
		timeout: 2 * time.Second,
	}
	if addr = strings.TrimSpace(addr); addr != "" {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		})
	}
	return a
}

// Observe records a security event and returns whether the alert threshold
// is reached. Events without a rule are ignored.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	key := fmt.Sprintf("%s:%s:%s:%s", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip))
	count, err := a.incr(ctx, key, window)
	if err != nil {
		slog.Warn("security alerter counting in memory", "err", err)
		count = a.local.Incr(key, window)
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

func (a *AuditAlerter) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if a.redisClient == nil {
		return a.local.Incr(key, window), nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return alertCounterScript.Run(ctx, a.redisClient, []string{key}, window.Milliseconds()).Int64()
}

// Close releases the Redis client, if any.
func (a *AuditAlerter) Close() error {
	if a == nil || a.redisClient == nil {
		return nil
	}
	return a.redisClient.Close()
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if outcome == "rate_limited" {
		return 20, time.Minute, true
	}
	if outcome != "fail" {
		return 0, 0, false
	}
	switch event {
	case "admin.login":
		return 10, 15 * time.Minute, true
	case "admin.authorize", "admin.logout":
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
