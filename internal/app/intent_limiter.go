package app

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const intentLimitWindow = time.Minute

// The window starts at the first attempt; INCR keeps the TTL set by SET NX.
var intentWindowScript = redis.NewScript(`
redis.call("SET", KEYS[1], 0, "PX", ARGV[1], "NX")
local attempts = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {attempts, ttl}
`)

// IntentLimiter decides whether a client may start another donation intent.
type IntentLimiter interface {
	AllowIntent(ctx context.Context, clientIP string) (LimitDecision, error)
}

// LimitDecision is the outcome of one intent attempt against the per-client window.
type LimitDecision struct {
	Allowed    bool
	Attempts   int
	Limit      int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the remaining window up to whole seconds, never below one.
func (d LimitDecision) RetryAfterSeconds() int {
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RedisIntentLimiter counts intent attempts per client address in Redis so every
// replica shares one window.
type RedisIntentLimiter struct {
	scripter redis.Scripter
	prefix   string
	limit    int
	window   time.Duration
}

// NewRedisIntentLimiter allows perMinute intents per client. A non-positive
// perMinute disables limiting.
func NewRedisIntentLimiter(scripter redis.Scripter, prefix string, perMinute int) *RedisIntentLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "donations:rate_limit"
	}
	return &RedisIntentLimiter{
		scripter: scripter,
		prefix:   prefix,
		limit:    perMinute,
		window:   intentLimitWindow,
	}
}

// AllowIntent records one attempt for clientIP and reports whether it fits the window.
func (l *RedisIntentLimiter) AllowIntent(ctx context.Context, clientIP string) (LimitDecision, error) {
	if l == nil || l.scripter == nil || l.limit <= 0 {
		return LimitDecision{Allowed: true}, nil
	}

	key := l.intentKey(clientIP)
	raw, err := intentWindowScript.Run(ctx, l.scripter, []string{key}, l.window.Milliseconds()).Result()
	if err != nil {
		return LimitDecision{}, fmt.Errorf("intent limiter: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return LimitDecision{}, fmt.Errorf("intent limiter: unexpected response %T", raw)
	}
	attempts, ok := values[0].(int64)
	if !ok {
		return LimitDecision{}, fmt.Errorf("intent limiter: unexpected attempt count %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = l.window.Milliseconds()
	}

	return LimitDecision{
		Allowed:    attempts <= int64(l.limit),
		Attempts:   int(attempts),
		Limit:      l.limit,
		RetryAfter: time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

// intentKey buckets IPv4 clients by address and IPv6 clients by their /64, since a
// single IPv6 host can rotate through its whole prefix.
func (l *RedisIntentLimiter) intentKey(clientIP string) string {
	clientIP = strings.TrimSpace(clientIP)
	ip := net.ParseIP(clientIP)
	switch {
	case ip == nil:
		if clientIP == "" {
			clientIP = "unknown"
		}
		return fmt.Sprintf("%s:intent:ip:%s", l.prefix, strings.ToLower(clientIP))
	case ip.To4() != nil:
		return fmt.Sprintf("%s:intent:ip:%s", l.prefix, ip.To4().String())
	default:
		network := ip.Mask(net.CIDRMask(64, 128))
		return fmt.Sprintf("%s:intent:net6:%s/64", l.prefix, network.String())
	}
}
