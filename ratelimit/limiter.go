// Package ratelimit provides the limiters the event relay throttles
// publishing with. A relay never waits for a limiter: a record that is not
// admitted is dropped.
//
//	relay, _ := events.NewRelay(pub, events.WithRelayLimiter(ratelimit.NewTokenBucket(100, 10)))
//
// TokenBucket limits one process. RedisLimiter shares a fixed-window budget
// between every process using the same key.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits or rejects one record. Implementations must be safe for
// concurrent use and must not block.
type Limiter interface {
	Allow(ctx context.Context) bool
}

// TokenBucket refills rps tokens per second up to burst; each admitted record
// takes one.
type TokenBucket struct {
	bucket *rate.Limiter
	denied atomic.Int64
}

// NewTokenBucket creates a bucket refilling rps tokens per second. A
// non-positive rps admits only the initial burst.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	return &TokenBucket{bucket: rate.NewLimiter(rate.Limit(max(rps, 0)), burst)}
}

// NewTokenBucketEvery creates a bucket refilling one token per interval.
func NewTokenBucketEvery(interval time.Duration, burst int) *TokenBucket {
	return &TokenBucket{bucket: rate.NewLimiter(rate.Every(interval), burst)}
}

// Allow takes a token if one is available.
func (t *TokenBucket) Allow(context.Context) bool {
	if t.bucket.Allow() {
		return true
	}
	t.denied.Add(1)
	return false
}

// Denied returns how many records the bucket has rejected.
func (t *TokenBucket) Denied() int64 {
	return t.denied.Load()
}

// Tokens returns the tokens currently available.
func (t *TokenBucket) Tokens() float64 {
	return t.bucket.Tokens()
}

var _ Limiter = (*TokenBucket)(nil)
