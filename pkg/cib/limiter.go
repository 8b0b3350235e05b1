package cib

import (
	"time"

	"golang.org/x/time/rate"
)

// RetryLimiter throttles how often the aggregator re-arms a commit after a
// transient store error. Without it, a store that is rejecting every write
// with diff-failed or election-in-progress would have every dampened
// attribute retry in lockstep on its own timer, producing a thundering
// herd of commit attempts.
type RetryLimiter struct {
	limiter *rate.Limiter
}

// NewRetryLimiter returns a limiter permitting burst immediate retries and
// then steady-state retries at the given rate.
func NewRetryLimiter(perSecond float64, burst int) *RetryLimiter {
	return &RetryLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Backoff returns how long the caller should wait before its next commit
// retry: zero if the limiter currently allows one, otherwise the delay until
// it would.
func (r *RetryLimiter) Backoff() time.Duration {
	res := r.limiter.Reserve()
	if !res.OK() {
		return 0
	}
	d := res.Delay()
	if d == 0 {
		return 0
	}
	return d
}
