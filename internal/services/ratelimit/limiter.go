// Package ratelimit implements the Redis-hosted token bucket rate limiter:
// one bucket per (key, category), refilled continuously and consumed
// atomically by a server-side script so concurrent requests never
// over-admit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Category names a class of endpoint with its own bucket parameters.
type Category string

const (
	CategoryDiscovery    Category = "discovery"
	CategoryRegistration Category = "registration"
	CategorySignup       Category = "signup"
	CategoryJobLifecycle Category = "job_lifecycle"
	CategoryWrite        Category = "write"
	CategoryRead         Category = "read"
)

// Params is a bucket's capacity and refill rate.
type Params struct {
	Capacity  int64
	RefillPerMin int64
}

// defaultParams mirrors the category table: discovery/registration/signup
// are tight and IP-keyed in practice, job_lifecycle has a modest capacity
// with a slow refill, write/read are the generic authenticated buckets.
var defaultParams = map[Category]Params{
	CategoryDiscovery:    {Capacity: 30, RefillPerMin: 30},
	CategoryRegistration: {Capacity: 5, RefillPerMin: 2},
	CategorySignup:       {Capacity: 3, RefillPerMin: 1},
	CategoryJobLifecycle: {Capacity: 20, RefillPerMin: 5},
	CategoryWrite:        {Capacity: 60, RefillPerMin: 30},
	CategoryRead:         {Capacity: 120, RefillPerMin: 120},
}

const bucketTTL = 120 * time.Second

// checkAndConsumeScript implements the refill-then-consume algorithm
// atomically: refill tokens for elapsed time since last_refill (capped at
// capacity), then either decrement a token or report the wait needed for
// one to become available. KEYS[1] is the bucket hash key.
var checkAndConsumeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_min = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(data[1])
local last_refill = tonumber(data[2])

if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = math.max(0, now - last_refill)
local refill_rate_per_sec = refill_per_min / 60.0
tokens = math.min(capacity, tokens + elapsed * refill_rate_per_sec)

local allowed = 0
local retry_after = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  local deficit = 1 - tokens
  retry_after = math.ceil(deficit / refill_rate_per_sec)
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens), retry_after, capacity}
`)

// Result is the outcome of a single check-and-consume call.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter enforces per-(key, category) token buckets over Redis.
type Limiter struct {
	client *redis.Client
	prefix string
	params map[Category]Params
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, prefix: "ratelimit:", params: defaultParams}
}

// Allow consumes one token from the (key, category) bucket, creating it
// with full capacity on first use.
func (l *Limiter) Allow(ctx context.Context, key string, category Category) (Result, error) {
	p, ok := l.params[category]
	if !ok {
		return Result{}, fmt.Errorf("unknown rate limit category: %s", category)
	}

	bucketKey := fmt.Sprintf("%s%s:%s", l.prefix, category, key)
	now := float64(time.Now().UnixNano()) / 1e9

	res, err := checkAndConsumeScript.Run(ctx, l.client, []string{bucketKey},
		p.Capacity, p.RefillPerMin, now, int(bucketTTL.Seconds())).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return Result{}, fmt.Errorf("unexpected rate limit script result shape")
	}

	allowed := vals[0].(int64) == 1
	remaining := vals[1].(int64)
	retryAfterSec := vals[2].(int64)
	limit := vals[3].(int64)

	return Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfterSec) * time.Second,
	}, nil
}

// KeyForRequest selects the bucket key per §4.5: the agent id when the
// request is authenticated, otherwise the client IP (first hop of a
// forwarded-for list if present, else the peer address).
func KeyForRequest(agentID, forwardedFor, remoteAddr string) string {
	if agentID != "" {
		return "agent:" + agentID
	}
	if forwardedFor != "" {
		if idx := indexOfComma(forwardedFor); idx >= 0 {
			return "ip:" + trimSpace(forwardedFor[:idx])
		}
		return "ip:" + trimSpace(forwardedFor)
	}
	return "ip:" + remoteAddr
}

func indexOfComma(s string) int {
	for i, r := range s {
		if r == ',' {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
