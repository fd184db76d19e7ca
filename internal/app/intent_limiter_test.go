package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubScripter struct {
	redis.Scripter
	attempts int64
	ttlMs    int64
	err      error
	keys     []string
	args     []interface{}
}

func (s *stubScripter) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = append(s.keys, keys...)
	s.args = args
	cmd := redis.NewCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
		return cmd
	}
	cmd.SetVal([]interface{}{s.attempts, s.ttlMs})
	return cmd
}

func TestRedisIntentLimiterDecisions(t *testing.T) {
	tests := []struct {
		name           string
		attempts       int64
		ttlMs          int64
		wantAllowed    bool
		wantRetryAfter int
	}{
		{name: "first attempt", attempts: 1, ttlMs: 60000, wantAllowed: true, wantRetryAfter: 60},
		{name: "at the limit", attempts: 3, ttlMs: 12000, wantAllowed: true, wantRetryAfter: 12},
		{name: "over the limit rounds up", attempts: 4, ttlMs: 41200, wantAllowed: false, wantRetryAfter: 42},
		{name: "expired ttl falls back to window", attempts: 5, ttlMs: -1, wantAllowed: false, wantRetryAfter: 60},
		{name: "sub-second remainder", attempts: 9, ttlMs: 5, wantAllowed: false, wantRetryAfter: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scripter := &stubScripter{attempts: tt.attempts, ttlMs: tt.ttlMs}
			limiter := NewRedisIntentLimiter(scripter, "donations:rate_limit:", 3)

			decision, err := limiter.AllowIntent(context.Background(), "203.0.113.9")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Allowed != tt.wantAllowed {
				t.Fatalf("expected allowed=%v, got %+v", tt.wantAllowed, decision)
			}
			if got := decision.RetryAfterSeconds(); got != tt.wantRetryAfter {
				t.Fatalf("expected retry after %d, got %d", tt.wantRetryAfter, got)
			}
			if len(scripter.args) != 1 || scripter.args[0] != int64(60000) {
				t.Fatalf("expected a one minute window argument, got %v", scripter.args)
			}
		})
	}
}

func TestRedisIntentLimiterKeys(t *testing.T) {
	tests := []struct {
		clientIP string
		want     string
	}{
		{clientIP: "203.0.113.9", want: "donations:rate_limit:intent:ip:203.0.113.9"},
		{clientIP: " ::ffff:203.0.113.9 ", want: "donations:rate_limit:intent:ip:203.0.113.9"},
		{clientIP: "2001:db8:1:2:aaaa::1", want: "donations:rate_limit:intent:net6:2001:db8:1:2::/64"},
		{clientIP: "2001:db8:1:2:bbbb::7", want: "donations:rate_limit:intent:net6:2001:db8:1:2::/64"},
		{clientIP: "", want: "donations:rate_limit:intent:ip:unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.clientIP, func(t *testing.T) {
			scripter := &stubScripter{attempts: 1, ttlMs: 60000}
			limiter := NewRedisIntentLimiter(scripter, "", 3)
			if _, err := limiter.AllowIntent(context.Background(), tt.clientIP); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(scripter.keys) != 1 || scripter.keys[0] != tt.want {
				t.Fatalf("expected key %q, got %v", tt.want, scripter.keys)
			}
		})
	}
}

func TestRedisIntentLimiterPropagatesErrors(t *testing.T) {
	scripter := &stubScripter{err: errors.New("dial tcp: connection refused")}
	limiter := NewRedisIntentLimiter(scripter, "donations", 3)

	if _, err := limiter.AllowIntent(context.Background(), "203.0.113.9"); err == nil {
		t.Fatal("expected the redis error to be returned")
	}
}

func TestRedisIntentLimiterDisabled(t *testing.T) {
	scripter := &stubScripter{attempts: 100, ttlMs: 60000}
	for _, limiter := range []*RedisIntentLimiter{nil, NewRedisIntentLimiter(scripter, "donations", 0), NewRedisIntentLimiter(nil, "donations", 3)} {
		decision, err := limiter.AllowIntent(context.Background(), "203.0.113.9")
		if err != nil || !decision.Allowed {
			t.Fatalf("expected a disabled limiter to allow, got %+v, %v", decision, err)
		}
	}
	if len(scripter.keys) != 0 {
		t.Fatalf("expected no redis calls, got %v", scripter.keys)
	}
}

func TestLimitDecisionRetryAfterSeconds(t *testing.T) {
	if got := (LimitDecision{RetryAfter: 1500 * time.Millisecond}).RetryAfterSeconds(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := (LimitDecision{}).RetryAfterSeconds(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
