// Package retry implements the exponential-backoff policy remote adapters
// wrap every network call in. It knows nothing about HTTP; callers classify
// their own errors as retryable or terminal.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy holds the backoff parameters. The zero value is not usable; use
// DefaultPolicy.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries uint64
	JitterPct  uint64
}

// DefaultPolicy matches the spec's parameters: base 100ms, factor 2 (the
// default for an exponential backoff), cap 10s, max 5 attempts (the first
// attempt plus 4 retries), ±20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:       100 * time.Millisecond,
		Cap:        10 * time.Second,
		MaxRetries: 4,
		JitterPct:  20,
	}
}

// Result is what one attempt reports back to Do.
type Result struct {
	// Err is nil on success.
	Err error
	// Retryable marks Err as transient; ignored when Err is nil.
	Retryable bool
	// RetryAfter, when non-zero, overrides the computed backoff interval
	// for the next attempt (e.g. from a Retry-After response header).
	RetryAfter time.Duration
}

// Func performs one attempt and classifies its own outcome.
type Func func(ctx context.Context) Result

// Do runs fn up to policy.MaxRetries+1 times, sleeping an exponentially
// growing, jittered interval between attempts. A retryable failure on the
// last attempt is returned to the caller rather than retried further, so
// the caller can decide what to do with it.
func Do(ctx context.Context, policy Policy, fn Func) error {
	backoff, err := goretry.NewExponential(policy.Base)
	if err != nil {
		return err
	}
	if policy.JitterPct > 0 {
		backoff = goretry.WithJitterPercent(policy.JitterPct, backoff)
	}
	backoff = goretry.WithCappedDuration(policy.Cap, backoff)

	var lastErr error
	for attempt := uint64(0); attempt <= policy.MaxRetries; attempt++ {
		res := fn(ctx)
		if res.Err == nil {
			return nil
		}
		lastErr = res.Err

		if !res.Retryable || attempt == policy.MaxRetries {
			return lastErr
		}

		wait, stop := backoff.Next()
		if stop {
			return lastErr
		}
		if res.RetryAfter > 0 {
			wait = res.RetryAfter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
