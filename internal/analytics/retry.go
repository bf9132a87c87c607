// Package analytics records email lifecycle events, maintains the daily
// rollups derived from them and answers analytics queries.
package analytics

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/storage"
)

// RetryPolicy bounds every storage call: each attempt gets CallTimeout and
// at most MaxAttempts are made, spaced by exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int
	CallTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryPolicyFromConfig builds a policy from storage config.
func RetryPolicyFromConfig(cfg config.StorageConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		CallTimeout:    cfg.CallTimeout,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	return b
}

// withRetry runs fn under p. Exhausted retries surface as a StorageError
// carrying the last cause. Cancellation of ctx and errors that storage
// classifies as permanent stop retrying at once.
func withRetry[T any](ctx context.Context, p RetryPolicy, m *metrics.Metrics, op string, fn func(context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		if attempts > 1 {
			m.RecordStorageRetry(op)
		}

		callCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}

		start := time.Now()
		v, err := fn(callCtx)
		m.RecordStorageCall(op, err, time.Since(start))

		if err != nil && (ctx.Err() != nil || storage.IsPermanent(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(uint(maxAttempts)))

	if err != nil {
		var zero T
		return zero, &apperr.StorageError{Op: op, Attempts: attempts, Err: err}
	}
	return result, nil
}
