// Package retry runs a call with a per-attempt timeout and exponential
// backoff. Only errors classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds one retried call.
type Policy struct {
	Timeout     time.Duration // per attempt
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultPolicy is three retries, 10 s per attempt, starting at 500 ms.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// Transient is implemented by errors that know whether a retry can help.
type Transient interface {
	Retryable() bool
}

// IsTransient reports rate limits, server errors and transport failures.
func IsTransient(err error) bool {
	var tr Transient
	if errors.As(err, &tr) {
		return tr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a non-transient error, the retry
// budget is spent, or ctx ends.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if p.InitialWait > 0 {
		eb.InitialInterval = p.InitialWait
	}
	if p.MaxWait > 0 {
		eb.MaxInterval = p.MaxWait
	}
	eb.MaxElapsedTime = 0

	var out T
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err != nil {
			if IsTransient(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
