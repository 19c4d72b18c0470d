package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles events with a token bucket.
//
// A nil *RateLimiter is valid and never throttles, so callers can keep a
// limiter field that is only set when a limit is configured.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing perSecond events on average with bursts
// of up to burst events. perSecond <= 0 means unlimited and returns nil.
// A burst below 1 is raised to 1 so that Wait can ever succeed.
//
// Example:
//
//	// Allow 50 accepts/s sustained, 100 at once
//	limiter := New(50, 100)
func New(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Allow reports whether an event may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Limit returns the sustained rate, or 0 for an unlimited limiter.
func (r *RateLimiter) Limit() float64 {
	if r == nil {
		return 0
	}
	return float64(r.limiter.Limit())
}

// Burst returns the bucket size, or 0 for an unlimited limiter.
func (r *RateLimiter) Burst() int {
	if r == nil {
		return 0
	}
	return r.limiter.Burst()
}
