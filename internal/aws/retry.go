package aws

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the exponential backoff applied to idempotent
// control-plane calls that fail with a transient error.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns sensible retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
	}
}

// BackOff returns an exponential backoff that stops after MaxAttempts
// tries or when ctx is done.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	// Attempts, not wall time, bound the loop.
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// callPolicy decides per operation whether transient failures are retried.
type callPolicy struct {
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
}

// do runs fn with a bounded per-call timeout. Only idempotent calls are
// retried, and only when the classified error is transient; everything else
// is returned after the first attempt.
func (c callPolicy) do(ctx context.Context, op string, idempotent bool, fn func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := classify(op, fn(callCtx))
		if err == nil {
			return nil
		}
		if !idempotent || !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		c.logger.Warn("control plane call failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return backoff.RetryNotify(operation, c.retry.BackOff(ctx), notify)
}
