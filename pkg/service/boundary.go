// Package service is the boundary between raising data operations and
// consumers that branch on a ServiceResult.
//
// Call is the only place in vloop where a raised error becomes a
// non-raising value. Below it, fetch operations raise and the retry policy
// observes the raise. Above it, consumers receive a result.Result.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/fetch"
	"github.com/ternarybob/vloop/pkg/result"
	"github.com/ternarybob/vloop/pkg/retry"
)

// Boundary holds the retry policy and optional circuit breaker for one
// named service.
type Boundary struct {
	name    string
	policy  retry.Policy
	breaker *retry.CircuitBreaker
	logger  *slog.Logger
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(b *Boundary) {
		b.policy = p
	}
}

// WithCircuitBreaker guards the boundary with cb.
func WithCircuitBreaker(cb *retry.CircuitBreaker) Option {
	return func(b *Boundary) {
		b.breaker = cb
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Boundary) {
		b.logger = logger
	}
}

// NewBoundary creates a boundary with the default retry policy.
func NewBoundary(name string, opts ...Option) *Boundary {
	b := &Boundary{
		name:   name,
		policy: retry.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the boundary name.
func (b *Boundary) Name() string {
	return b.name
}

// Call runs op under the boundary's retry policy and converts the outcome
// into a result. It never returns an error and never panics on op failure.
func Call[T any](ctx context.Context, b *Boundary, op func(ctx context.Context) (T, error)) result.Result[T] {
	if b.breaker != nil && !b.breaker.Allow() {
		stats := b.breaker.Stats()
		b.logger.Warn("circuit open, call rejected", "service", b.name, "reason", stats.OpenReason)
		return result.Fail[T](result.Failure{
			Code:    fault.ECircuitOpen,
			Message: fmt.Sprintf("%s is failing repeatedly; calls are paused, try again shortly", b.name),
			Details: map[string]any{"service": b.name, "reason": stats.OpenReason},
		})
	}

	policy := b.policy
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(a retry.Attempt) {
		b.logger.Debug("retrying service call",
			"service", b.name,
			"attempt", a.Number,
			"wait", a.Wait,
			"error", a.Err,
		)
		if userOnRetry != nil {
			userOnRetry(a)
		}
	}

	data, err := retry.DoValue(ctx, policy, op)
	if err != nil {
		if b.breaker != nil {
			if errors.Is(err, context.Canceled) {
				b.breaker.Abort()
			} else {
				b.breaker.RecordError(err)
			}
		}
		failure := FailureFrom(err)
		failure.Details["service"] = b.name
		b.logger.Warn("service call failed",
			"service", b.name,
			"code", failure.Code,
			"attempts", retry.Attempts(err),
			"error", err,
		)
		return result.Fail[T](failure)
	}

	if b.breaker != nil {
		b.breaker.RecordSuccess()
	}
	return result.Success(data)
}

// FailureFrom converts a raised error into a Failure with a stable code.
// The message keeps the original error text so the failure stays
// diagnosable.
func FailureFrom(err error) result.Failure {
	details := map[string]any{}
	if n := retry.Attempts(err); n > 0 {
		details["attempts"] = n
	}

	var se *fetch.StatusError
	switch {
	case err == nil:
		return result.Failure{Code: fault.EInternal, Message: "no error to convert", Details: details}

	case errors.As(err, &se):
		details["status"] = se.StatusCode
		details["url"] = se.URL
		return result.Failure{
			Code:    fault.Code("HTTP_" + strconv.Itoa(se.StatusCode)),
			Message: statusMessage(se),
			Details: details,
		}

	case errors.Is(err, context.DeadlineExceeded):
		return result.Failure{Code: fault.ETimeout, Message: "request timed out: " + err.Error(), Details: details}

	case errors.Is(err, context.Canceled):
		return result.Failure{Code: fault.ECancelled, Message: "request was cancelled", Details: details}
	}

	if fe, ok := fault.As(err); ok {
		for k, v := range fe.Details {
			details[k] = v
		}
		return result.Failure{Code: fe.Code, Message: err.Error(), Details: details}
	}

	return result.Failure{Code: fault.EFetchFailed, Message: err.Error(), Details: details}
}

func statusMessage(se *fetch.StatusError) string {
	switch {
	case se.StatusCode >= 500:
		return fmt.Sprintf("the server could not complete %s %s (HTTP %d)", se.Method, se.URL, se.StatusCode)
	case se.StatusCode == http.StatusNotFound:
		return fmt.Sprintf("%s was not found (HTTP 404)", se.URL)
	case se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden:
		return fmt.Sprintf("access to %s was denied (HTTP %d); check credentials", se.URL, se.StatusCode)
	default:
		return fmt.Sprintf("%s %s was rejected (HTTP %d)", se.Method, se.URL, se.StatusCode)
	}
}
