// Package jobs runs durable background indexing work. Jobs are leased from
// the store with a visibility timeout, executed against the index service,
// and retried on an exponential backoff until a terminal success or failure.
package jobs

import (
	"math/rand"
	"time"
)

// RetryPolicy shapes the backoff between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget before a job parks as failed.
	MaxAttempts int
	// BackoffBase is the delay after the first failure; it doubles per
	// subsequent failure.
	BackoffBase time.Duration
	// BackoffMax caps the doubled delay.
	BackoffMax time.Duration
	// Jitter spreads retries by up to this fraction of the delay (0..1).
	Jitter float64
}

// DefaultRetryPolicy returns the reference tuning: 5s, 10s, 20s, ... capped
// at an hour, five attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BackoffBase: 5 * time.Second,
		BackoffMax:  time.Hour,
		Jitter:      0.2,
	}
}

// Terminal reports whether a job that has now failed retryCount times is out
// of budget.
func (p RetryPolicy) Terminal(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}

// NextRetry returns when the attempt after retryCount prior failures should
// run. retryCount counts failures already recorded, so the first retry
// (retryCount=1) waits BackoffBase.
func (p RetryPolicy) NextRetry(now time.Time, retryCount int) time.Time {
	if retryCount < 1 {
		retryCount = 1
	}
	d := p.BackoffBase << (retryCount - 1)
	if d > p.BackoffMax || d <= 0 {
		d = p.BackoffMax
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return now.Add(d)
}
