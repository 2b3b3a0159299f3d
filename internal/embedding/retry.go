package embedding

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures exponential backoff for provider calls.
// MaxRetries counts every attempt, including the first.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	// The caller's context bounds the total time.
	b.MaxElapsedTime = 0

	attempts := max(c.MaxRetries, 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// runs out of attempts or ctx is done.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		result, err := fn()
		if err != nil && !retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, config.backOff(ctx))
}
