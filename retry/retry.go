// Package retry runs an operation repeatedly
// while it fails with errors a caller deems retryable,
// sleeping with exponential backoff and jitter between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts counts the first attempt; 1 means no retries.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter is the randomization factor applied to each delay, in [0, 1].
	// A delay d becomes a random value in [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64

	// OnRetry, if set, is called before each sleep.
	// Attempt is the 1-based number of the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is five attempts, starting at half a second and capped at a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return errors.Wrapf(e.Err, "giving up after %d attempts", e.Attempts).Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls op until it succeeds,
// fails with an error for which retryable returns false,
// attempts run out,
// or ctx is done.
//
// It returns the number of retries performed
// (attempts beyond the first)
// and the final error.
// A non-retryable error is returned unchanged,
// as is the last error when ctx is done.
// Running out of attempts yields an *ExhaustedError.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(context.Context) error) (int, error) {
	var (
		calls, retries int
		lastErr        error
		permanent      bool
	)
	err := backoff.RetryNotify(
		func() error {
			calls++
			lastErr = op(ctx)
			if lastErr == nil {
				return nil
			}
			if ctx.Err() != nil || retryable == nil || !retryable(lastErr) {
				permanent = true
				return backoff.Permanent(lastErr)
			}
			return lastErr
		},
		p.backOff(ctx),
		func(err error, delay time.Duration) {
			retries++
			if p.OnRetry != nil {
				p.OnRetry(calls, err, delay)
			}
		},
	)
	switch {
	case err == nil:
		return retries, nil
	case permanent, ctx.Err() != nil:
		return retries, lastErr
	}
	return retries, &ExhaustedError{Attempts: calls, Err: lastErr}
}

// backOff builds the schedule for p, stopping after MaxAttempts or when ctx is done.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.Multiplier = p.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.RandomizationFactor = p.Jitter
	if eb.RandomizationFactor > 1 {
		eb.RandomizationFactor = 1
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}
