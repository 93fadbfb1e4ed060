// Package retry wraps fetch-level operations in a bounded retry policy.
//
// The policy only ever looks at the error an operation returns. Whether to
// retry is a pure predicate over that error (see Transient). When attempts
// run out, the last error is raised to the caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Operation is a single attempt.
type Operation func(ctx context.Context) error

// Classifier decides whether an error is worth another attempt.
type Classifier func(err error) bool

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int           // 1-based attempt that failed
	Err    error         // error raised by that attempt
	Wait   time.Duration // backoff before the next attempt
}

// Policy configures bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the wait before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps any single wait.
	MaxInterval time.Duration

	// Multiplier grows the wait after each retry.
	Multiplier float64

	// RandomizationFactor applies jitter: wait * (1 ± factor).
	RandomizationFactor float64

	// ShouldRetry classifies errors. Defaults to Transient.
	ShouldRetry Classifier

	// OnRetry is called once per retry, before waiting.
	OnRetry func(Attempt)
}

// DefaultPolicy returns 3 attempts, 200ms initial wait doubling to at most
// 2s, with 50% jitter, retrying only transient errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		ShouldRetry:         Transient,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor >= 1 {
		p.RandomizationFactor = d.RandomizationFactor
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = d.ShouldRetry
	}
	return p
}

// AttemptError carries the number of attempts made alongside the final error.
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	if e.Attempts <= 1 {
		return e.Err.Error()
	}
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Attempts returns the attempt count recorded in err, or 0.
func Attempts(err error) int {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}

// Do runs op until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. Attempts never overlap.
func (p Policy) Do(ctx context.Context, op Operation) error {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = 0
	eb.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(Attempt{Number: attempts, Err: err, Wait: wait})
		}
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return &AttemptError{Attempts: attempts, Err: err}
	}
	return nil
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
