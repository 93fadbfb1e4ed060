// Package result provides the ServiceResult sum type returned from every
// service boundary.
//
// A Result is either a success carrying data or a failure carrying a
// message and optional code and details. The discriminant is unexported,
// so the only ways to build one are Success and Fail. The zero value is
// observed as a failure with code E_UNSET, never as an empty success.
package result

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/vloop/pkg/fault"
)

// Failure describes why a service call did not produce data.
type Failure struct {
	Message string         `json:"message"`
	Code    fault.Code     `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// unset is what a zero-value Result reports.
var unset = Failure{
	Code:    fault.EUnset,
	Message: "result was never set by a service boundary",
}

// Result is a discriminated Success/Failure value.
type Result[T any] struct {
	ok      bool
	data    T
	failure *Failure
}

// Success wraps data in a successful result.
func Success[T any](data T) Result[T] {
	return Result[T]{ok: true, data: data}
}

// Fail builds a failed result. An empty message is replaced so a failure
// always says something.
func Fail[T any](f Failure) Result[T] {
	if f.Message == "" {
		f.Message = "operation failed without a message"
	}
	if len(f.Details) > 0 {
		details := make(map[string]any, len(f.Details))
		for k, v := range f.Details {
			details[k] = v
		}
		f.Details = details
	}
	return Result[T]{failure: &f}
}

// Failf builds a failed result with a code and formatted message.
func Failf[T any](code fault.Code, format string, args ...any) Result[T] {
	return Fail[T](Failure{Code: code, Message: fmt.Sprintf(format, args...)})
}

// IsSuccess reports whether r is the Success variant.
func (r Result[T]) IsSuccess() bool {
	return r.ok
}

// IsFailure reports whether r is the Failure variant. Zero values are failures.
func (r Result[T]) IsFailure() bool {
	return !r.ok
}

// Data returns the success payload and true, or the zero T and false.
func (r Result[T]) Data() (T, bool) {
	if !r.ok {
		var zero T
		return zero, false
	}
	return r.data, true
}

// Failure returns the failure and true, or an empty Failure and false.
func (r Result[T]) Failure() (Failure, bool) {
	if r.ok {
		return Failure{}, false
	}
	if r.failure == nil {
		return unset, true
	}
	return *r.failure, true
}

// String renders the variant for logs.
func (r Result[T]) String() string {
	if r.ok {
		return fmt.Sprintf("Success{%v}", r.data)
	}
	f, _ := r.Failure()
	if f.Code != "" {
		return fmt.Sprintf("Failure{%s: %s}", f.Code, f.Message)
	}
	return fmt.Sprintf("Failure{%s}", f.Message)
}

// Match branches on the discriminant. Exactly one callback runs.
func Match[T, R any](r Result[T], onSuccess func(T) R, onFailure func(Failure) R) R {
	if data, ok := r.Data(); ok {
		return onSuccess(data)
	}
	f, _ := r.Failure()
	return onFailure(f)
}

// Map transforms the success payload and passes failures through untouched.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if data, ok := r.Data(); ok {
		return Success(fn(data))
	}
	f, _ := r.Failure()
	return Result[U]{failure: &f}
}

// FlatMap chains a second result-producing step onto a success.
func FlatMap[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if data, ok := r.Data(); ok {
		return fn(data)
	}
	f, _ := r.Failure()
	return Result[U]{failure: &f}
}

type wire[T any] struct {
	Success bool     `json:"success"`
	Data    *T       `json:"data,omitempty"`
	Error   *Failure `json:"error,omitempty"`
}

// MarshalJSON encodes {"success":true,"data":...} or
// {"success":false,"error":{...}}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if data, ok := r.Data(); ok {
		return json.Marshal(wire[T]{Success: true, Data: &data})
	}
	f, _ := r.Failure()
	return json.Marshal(wire[T]{Success: false, Error: &f})
}

// UnmarshalJSON decodes the wire shape, rejecting payloads that carry both
// variants or a failure without an error object.
func (r *Result[T]) UnmarshalJSON(b []byte) error {
	var raw struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *Failure        `json:"error"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return fault.Wrap(fault.EDecode, "decode result", err)
	}
	if raw.Success == nil {
		return fault.New(fault.EDecode, "result is missing the success discriminant")
	}

	if *raw.Success {
		if raw.Error != nil {
			return fault.New(fault.EDecode, "success result must not carry an error")
		}
		var data T
		if len(raw.Data) > 0 {
			if err := json.Unmarshal(raw.Data, &data); err != nil {
				return fault.Wrap(fault.EDecode, "decode result data", err)
			}
		}
		*r = Success(data)
		return nil
	}

	if raw.Error == nil {
		return fault.New(fault.EDecode, "failure result must carry an error")
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		return fault.New(fault.EDecode, "failure result must not carry data")
	}
	*r = Fail[T](*raw.Error)
	return nil
}
