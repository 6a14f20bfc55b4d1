package task

import (
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// backoffFactor is the first delay of an exponential retry schedule.
const backoffFactor = time.Second

// RetryPolicy controls automatic retries when a handler returns an error.
// The zero value never retries.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// DefaultDelay is used between attempts when Backoff is false.
	DefaultDelay time.Duration
	// Backoff doubles the delay on each retry starting from one second.
	Backoff bool
	// BackoffMax caps the exponential delay. Zero means no cap.
	BackoffMax time.Duration
	// Jitter replaces the delay with a uniform value in [0, delay].
	Jitter bool
	// RetryOn restricts retries to matching errors. Nil retries every error.
	RetryOn func(error) bool
}

// ShouldRetry reports whether a task that has already been retried
// `retries` times should be retried after failing with err.
func (p RetryPolicy) ShouldRetry(retries int, err error) bool {
	if err == nil || retries >= p.MaxRetries {
		return false
	}
	if p.RetryOn != nil {
		return p.RetryOn(err)
	}
	return true
}

// Delay returns how long to wait before retry number retries+1.
func (p RetryPolicy) Delay(retries int) time.Duration {
	if !p.Backoff {
		return p.DefaultDelay
	}

	b := retry.NewExponential(backoffFactor)
	if p.BackoffMax > 0 {
		b = retry.WithCappedDuration(p.BackoffMax, b)
	}

	var delay time.Duration
	for i := 0; i <= retries; i++ {
		delay, _ = b.Next()
	}

	if p.Jitter && delay > 0 {
		delay = rand.N(delay + 1)
	}
	return delay
}
