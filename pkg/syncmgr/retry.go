package syncmgr

import (
	"math"
	"math/rand/v2"
	"time"
)

// Retryer decides how long a failed mutation waits before its next attempt.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based) and
	// whether the mutation may be retried at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// DefaultMaxRetries is the retry budget of a mutation before it is parked.
const DefaultMaxRetries = 5

// ExponentialBackoffRetryer implements capped exponential backoff with jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries is the maximum number of retries (0 for infinite).
	MaxRetries int

	Jitter bool
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		MaxRetries:   DefaultMaxRetries,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// FixedDelayRetryer waits the same delay between every retry.
type FixedDelayRetryer struct {
	Delay time.Duration
	// MaxRetries is the maximum number of retries (0 for infinite).
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}
