// Package ratelimit implements a Redis sliding-window request counter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "rate_limit:"
	// ttlSlack is added to the window when refreshing a key's TTL.
	ttlSlack = 10 * time.Second
)

// ErrRateLimitExceeded is returned by callers that surface a rejected Check as an error.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// slidingWindow prunes, counts, and conditionally records in one round-trip.
// KEYS[1] key; ARGV: now_ms, window_ms, limit, member, ttl_ms.
// Returns {allowed, count_before, oldest_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local score = now
  if oldest[2] then
    score = tonumber(oldest[2])
  end
  return {0, count, score}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return {1, count, 0}
`)

// Result is the outcome of a Check.
type Result struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

// Limiter is a sliding-window rate limiter. Safe for concurrent use.
type Limiter struct {
	rdb redis.Scripter
	now func() time.Time
}

// NewLimiter returns a Limiter over rdb.
func NewLimiter(rdb redis.Scripter) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// Check records one event for key if fewer than limit events fall inside the trailing window.
// A rejected call reports how long until the oldest event leaves the window, at least 1 second.
// Store errors fail open: the call is allowed with the full budget remaining.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	if limit <= 0 {
		return Result{Allowed: false, RetryAfterSeconds: ceilSeconds(window)}
	}
	now := l.now().UnixMilli()
	windowMs := window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())
	vals, err := slidingWindow.Run(ctx, l.rdb, []string{keyPrefix + key},
		now, windowMs, limit, member, (window + ttlSlack).Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 3 {
		log.Printf("ratelimit: check %q failed, allowing: %v", key, err)
		return Result{Allowed: true, Remaining: limit}
	}
	count := int(vals[1])
	if vals[0] == 0 {
		wait := time.Duration(vals[2]+windowMs-now) * time.Millisecond
		retry := ceilSeconds(wait)
		if retry < 1 {
			retry = 1
		}
		return Result{Allowed: false, Remaining: 0, RetryAfterSeconds: retry}
	}
	return Result{Allowed: true, Remaining: limit - count - 1}
}

// Allow checks subject against policy p.
func (l *Limiter) Allow(ctx context.Context, p Policy, subject string) Result {
	return l.Check(ctx, p.Key(subject), p.Limit, p.Window)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
