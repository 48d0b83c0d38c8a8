package httpx

import (
	"context"
	"fmt"
	"time"
)

// Counter is an atomic fixed-window counter. The window starts on the first
// increment of a key and is not extended by later increments.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// WindowLimiter is a fixed-window limiter whose counters live in a shared
// store, so every instance draws from the same budget.
type WindowLimiter struct {
	counter Counter
	prefix  string
	cfg     RateLimitConfig
}

// NewWindowLimiter creates a shared limiter. prefix separates the counters of
// different endpoint groups.
func NewWindowLimiter(counter Counter, prefix string, cfg RateLimitConfig) *WindowLimiter {
	return &WindowLimiter{counter: counter, prefix: prefix, cfg: cfg}
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (LimitResult, error) {
	n, ttl, err := l.counter.IncrWithTTL(ctx, "rl:"+l.prefix+":"+key, l.cfg.Window)
	if err != nil {
		return LimitResult{}, fmt.Errorf("rate limit counter: %w", err)
	}

	limit := l.cfg.RequestsPerWindow
	res := LimitResult{
		Limit:     limit,
		Allowed:   n <= int64(limit),
		Remaining: max(limit-int(n), 0),
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}
