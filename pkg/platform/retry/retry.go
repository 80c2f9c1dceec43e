// Package retry runs persistence calls with a bounded exponential backoff.
//
// Store operations are assumed to fail transiently (lock contention, dropped
// connections). Facts that a retry cannot change, such as a missing row or a
// lost compare-and-set, are returned immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/sentinel"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is three attempts with a short backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// NoWait retries immediately; intended for tests.
func NoWait(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// Do calls fn until it succeeds, returns a permanent error, the context ends,
// or the attempts are exhausted. Exhaustion is reported as CodeUnavailable
// wrapping the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isPermanent(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, p.backOff(ctx))
	if err == nil {
		return nil
	}
	if isPermanent(ctx, err) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "persistence unavailable")
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff
	if p.InitialInterval <= 0 {
		b = &backoff.ZeroBackOff{}
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			exp.MaxInterval = p.MaxInterval
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}

// isPermanent classifies errors that must not be retried.
func isPermanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if sentinel.IsPermanent(err) {
		return true
	}
	if de, ok := dErrors.As(err); ok {
		return de.Code != dErrors.CodeInternal && de.Code != dErrors.CodeUnavailable
	}
	return false
}
