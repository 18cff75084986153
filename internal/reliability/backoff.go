package reliability

import (
	"context"
	"time"
)

// Policy bounds how often and how patiently a transient failure is retried.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// Allow reports whether another attempt may follow the given zero-based
// failed attempt.
func (p Policy) Allow(attempt int) bool {
	return attempt < p.MaxRetries
}

// Delay is the pause before the retry that follows attempt.
func (p Policy) Delay(attempt int) time.Duration {
	capDur := p.Cap
	if capDur <= 0 {
		capDur = 8 * p.Base
	}
	return ExponentialBackoff(attempt, p.Base, capDur)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Wait sleeps for d unless ctx ends first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
