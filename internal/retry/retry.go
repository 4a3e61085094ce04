// Package retry implements bounded exponential backoff for pipeline work.
//
// Only errors classified retryable by the errs package are re-attempted;
// everything else propagates on the first failure. The helper does not
// decide what is transient, it only schedules the attempts.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/grillmaster/grillmaster/internal/errs"
)

// Options controls the retry schedule.
type Options struct {
	// MaxRetries is the number of re-attempts after the first call.
	// 0 means the function runs exactly once.
	MaxRetries int

	// BaseDelay is the delay before the first re-attempt. Doubled on every
	// further attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// DisableJitter turns off the randomization of delays. Only useful in
	// tests that assert exact timing.
	DisableJitter bool
}

// Do runs fn until it succeeds, returns a non-retryable error, or exhausts
// MaxRetries. The delay before re-attempt n (0-indexed) is
// min(BaseDelay<<n, MaxDelay), multiplied by a uniform [0.75, 1.25) jitter
// factor, floored at 1ms. Context cancellation aborts the backoff sleep and
// returns ctx.Err().
func Do[T any](ctx context.Context, opts Options, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errs.IsRetryable(err) || attempt >= opts.MaxRetries {
			return zero, lastErr
		}

		select {
		case <-time.After(delayFor(opts, attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// delayFor computes the backoff before re-attempt n.
func delayFor(opts Options, attempt int) time.Duration {
	delay := opts.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if opts.MaxDelay > 0 && delay >= opts.MaxDelay {
			delay = opts.MaxDelay
			break
		}
	}
	if opts.MaxDelay > 0 && delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}

	if !opts.DisableJitter {
		delay = time.Duration(float64(delay) * (0.75 + rand.Float64()*0.5))
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}
