// Package poll waits for an external condition with a bounded, cancellable
// retry policy.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when a policy is exhausted before the condition held.
var ErrTimeout = errors.New("poll: timed out")

// Policy bounds a polling loop. Zero values fall back to DefaultPolicy.
type Policy struct {
	Interval    time.Duration // first wait between attempts
	MaxInterval time.Duration // ceiling for exponential growth
	MaxAttempts int           // total attempts, including the first
	Timeout     time.Duration // wall clock budget for the whole loop
	Exponential bool
}

// DefaultPolicy polls every five seconds for at most 60 attempts or five
// minutes, whichever comes first.
var DefaultPolicy = Policy{
	Interval:    5 * time.Second,
	MaxInterval: 30 * time.Second,
	MaxAttempts: 60,
	Timeout:     5 * time.Minute,
}

// Op is one attempt. It returns done=false to ask for another attempt.
// A non-nil error aborts the loop unless it is wrapped with Retryable.
type Op[T any] func(ctx context.Context, attempt int) (v T, done bool, err error)

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so Until keeps polling.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

var errNotDone = errors.New("condition not met")

// Until runs op until it reports done, the policy is exhausted or ctx is done.
func Until[T any](ctx context.Context, p Policy, op Op[T]) (T, error) {
	p = p.withDefaults()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	attempt := 0
	var last error
	v, err := backoff.RetryWithData(func() (T, error) {
		n := attempt
		attempt++
		v, done, err := op(ctx, n)
		if err != nil {
			var re *retryableError
			if errors.As(err, &re) {
				last = re.err
				return v, err
			}
			return v, backoff.Permanent(err)
		}
		if !done {
			return v, errNotDone
		}
		return v, nil
	}, backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.MaxAttempts-1)), ctx))
	if err == nil {
		return v, nil
	}

	var zero T
	switch {
	case errors.Is(err, errNotDone), isRetryable(err):
		if last != nil {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempt, last)
		}
		return zero, fmt.Errorf("%w after %d attempts", ErrTimeout, attempt)
	case errors.Is(err, context.DeadlineExceeded) && p.Timeout > 0:
		return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, p.Timeout, err)
	}
	return zero, err
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultPolicy.Interval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	return p
}

func (p Policy) backOff() backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Interval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	// MaxElapsedTime is governed by Timeout through the context instead.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
