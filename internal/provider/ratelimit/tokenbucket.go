package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

// TokenBucket refills at rate tokens per second up to capacity (the burst).
// A new bucket starts full.
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 1e-7
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst),
		last:     time.Now(),
	}
}

// PerMinute builds a bucket allowing n requests per minute with the given burst.
func PerMinute(n, burst int) *TokenBucket {
	return NewTokenBucket(float64(n)/60, burst)
}

// take refills the bucket up to now and consumes one token when available.
// Otherwise it returns how long until the next token accrues.
func (tb *TokenBucket) take(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.rate)
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	return max(time.Millisecond, time.Duration((1-tb.tokens)/tb.rate*float64(time.Second)))
}

// Allow consumes a token if one is available right now.
func (tb *TokenBucket) Allow() bool { return tb.take(time.Now()) == 0 }

// Wait blocks until one token is available or ctx is canceled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		d := tb.take(time.Now())
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketProvider wraps a Provider and gates calls using a token bucket.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *TokenBucket
}

func (t *TokenBucketProvider) Name() string { return t.P.Name() }

func (t *TokenBucketProvider) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return t.P.Fetch(ctx, q)
}

// Wrap gates p with a token bucket when perMinute is set, otherwise with a
// minimum interval when one is set.
func Wrap(p provider.Provider, perMinute, burst int, minInterval time.Duration) provider.Provider {
	switch {
	case perMinute > 0:
		return &TokenBucketProvider{P: p, TB: PerMinute(perMinute, burst)}
	case minInterval > 0:
		return &MinInterval{P: p, Interval: minInterval}
	default:
		return p
	}
}
