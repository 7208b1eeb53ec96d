package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client defines the Redis operations the limiter needs.
// Supports *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
type Client interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisLimiter implements a distributed fixed-window rate limiter.
//
// Every window has its own counter key, "ratelimit:<key>:<window index>",
// incremented with INCR and expired after the window. The limit may be
// exceeded up to twice at window boundaries.
//
// On Redis errors the limiter fails open.
type RedisLimiter struct {
	client Client
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisLimiter creates a limiter allowing limit events per window.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	limiter := ratelimit.NewRedisLimiter(rdb, "relay", 100, time.Second)
func NewRedisLimiter(client Client, key string, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		key:    "ratelimit:" + key,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: slog.Default().With("component", "ratelimit>redis"),
	}
}

func (r *RedisLimiter) windowKey() string {
	idx := r.now().UnixNano() / int64(r.window)
	return r.key + ":" + strconv.FormatInt(idx, 10)
}

// Allow returns true if an event can happen in the current window.
func (r *RedisLimiter) Allow(ctx context.Context) bool {
	key := r.windowKey()
	current, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Warn("rate limit check failed, allowing", "key", key, "error", err)
		return true
	}
	if current == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			r.logger.Warn("rate limit expire failed", "key", key, "error", err)
		}
	}
	return current <= int64(r.limit)
}

// Remaining returns the number of events left in the current window.
func (r *RedisLimiter) Remaining(ctx context.Context) (int, error) {
	val, err := r.client.Get(ctx, r.windowKey()).Int()
	if errors.Is(err, redis.Nil) {
		return r.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return max(r.limit-val, 0), nil
}

var _ Limiter = (*RedisLimiter)(nil)
