package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/metrics"
	"github.com/imalyk/go-thumbnailer/internal/store"
)

// Policy decides what Admit does when the counter store cannot be reached.
type Policy int

const (
	// FailOpen admits the request. Upload availability wins over strict
	// enforcement while Redis is down.
	FailOpen Policy = iota
	// FailClosed rejects the request with ErrStoreUnavailable.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// incrScript increments the window counter and establishes its expiry in one
// server-side step. A counter that somehow lost its TTL is given one again so
// it can never pin a client forever.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type Decision struct {
	Allowed bool
	Count   int64
	// RetryAfter is set on denial: the remaining lifetime of the window,
	// rounded up to whole seconds.
	RetryAfter time.Duration
}

type Limiter struct {
	client redis.Scripter
	keys   store.Keyspace
	max    int64
	window time.Duration
	policy Policy
}

func NewLimiter(client redis.Scripter, keys store.Keyspace, max int64, window time.Duration, policy Policy) *Limiter {
	return &Limiter{
		client: client,
		keys:   keys,
		max:    max,
		window: window,
		policy: policy,
	}
}

// Admit counts one request for clientKey in the current fixed window.
func (l *Limiter) Admit(ctx context.Context, clientKey string) (Decision, error) {
	res, err := incrScript.Run(ctx, l.client, []string{l.keys.RateLimit(clientKey)}, l.window.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script reply of length %d", len(res))
	}
	if err != nil {
		metrics.IncreaseRateLimitStoreErrors()
		if l.policy == FailClosed {
			return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		zap.S().Named("rate_limiter").Warnw("counter store unreachable, admitting request", "client", clientKey, "policy", l.policy.String(), "error", err)
		return Decision{Allowed: true}, nil
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if count <= l.max {
		return Decision{Allowed: true, Count: count}, nil
	}
	return Decision{Allowed: false, Count: count, RetryAfter: roundUpSeconds(ttl)}, nil
}

func roundUpSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
