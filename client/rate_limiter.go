package client

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests. A nil limiter never waits.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond requests per second with a burst of one
// second's worth. A non-positive rate returns nil.
func NewRateLimiter(perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burstFor(perSecond))}
}

func burstFor(perSecond float64) int {
	return int(math.Max(1, math.Ceil(perSecond)))
}

// SetRate changes the rate and the burst along with it.
func (l *RateLimiter) SetRate(perSecond float64) {
	if l == nil || perSecond <= 0 {
		return
	}
	l.limiter.SetLimit(rate.Limit(perSecond))
	l.limiter.SetBurst(burstFor(perSecond))
}

// Limit returns the current rate in requests per second, or +Inf for a nil limiter.
func (l *RateLimiter) Limit() float64 {
	if l == nil {
		return math.Inf(1)
	}
	return float64(l.limiter.Limit())
}

// Wait blocks until a request may be sent or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}
