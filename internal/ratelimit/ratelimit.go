// Package ratelimit protects the RPC surface from request floods.
//
// Unlike the license guard, limiters here fail open: a limiter whose backing
// store is unreachable admits the request and reports the error.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects a request identified by key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter is a fixed-window counter shared by every server instance
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per key per window
func NewRedisLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow implements Limiter. A Redis failure admits the request.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	redisKey := l.prefix + ":ratelimit:" + key + ":" + strconv.FormatInt(slot, 10)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true, Remaining: l.limit}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return Decision{Allowed: true, Remaining: l.limit - 1}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if count > int64(l.limit) {
		windowEnd := time.Unix(0, (slot+1)*int64(l.window))
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
}

// LocalLimiter is an in-process token bucket per key
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows rps requests per second per key with the given burst
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*localEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow implements Limiter
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[key]
	if !ok {
		l.evictIdle(now)
		entry = &localEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(entry.limiter.TokensAt(now))}, nil
}

func (l *LocalLimiter) evictIdle(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
