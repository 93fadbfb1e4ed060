// Package fault defines the stable error codes used across vloop.
//
// Codes are part of the public contract: they appear in ServiceResult
// failures, in CLI output, and in persisted reports.
package fault

import (
	"errors"
	"fmt"
)

// Code is a stable error code string.
type Code string

const (
	EUsage    Code = "E_USAGE"
	EConfig   Code = "E_CONFIG"
	EInternal Code = "E_INTERNAL"

	// Verification loop
	EStageOrder  Code = "E_STAGE_ORDER"  // outcome recorded for a stage that is not current
	ERunTerminal Code = "E_RUN_TERMINAL" // run already reached done or failed
	EEscalated   Code = "E_ESCALATED"    // stage failed three times, human needed
	EUnavailable Code = "E_UNAVAILABLE"  // collaborator unreachable (dev server, browser)
	ERunNotFound Code = "E_RUN_NOT_FOUND"

	// Fetch / service boundary
	EFetchFailed Code = "E_FETCH_FAILED"
	EHTTPStatus  Code = "E_HTTP_STATUS"
	ETimeout     Code = "E_TIMEOUT"
	ECancelled   Code = "E_CANCELLED"
	ECircuitOpen Code = "E_CIRCUIT_OPEN"
	EDecode      Code = "E_DECODE"
	EUnset       Code = "E_UNSET" // zero-value ServiceResult

	// Criteria tracking
	EVagueCriterion    Code = "E_VAGUE_CRITERION"
	ECriterionNotFound Code = "E_CRITERION_NOT_FOUND"
	ENotVerified       Code = "E_NOT_VERIFIED"
)

// Error is the standard coded error.
type Error struct {
	Code    Code
	Msg     string
	Cause   error
	Details map[string]string
}

// Error returns "CODE: message".
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping cause.
func Wrap(code Code, msg string, cause error) error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// WrapWithDetails wraps cause and attaches a copy of details.
func WrapWithDetails(code Code, msg string, cause error, details map[string]string) error {
	return &Error{Code: code, Msg: msg, Cause: cause, Details: copyDetails(details)}
}

// CodeOf extracts the code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// As returns the coded error inside err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ExitCode maps an error to a process exit code.
//
//	0 nil, 2 usage/config, 3 escalated to a human, 1 anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case EUsage, EConfig:
		return 2
	case EEscalated:
		return 3
	default:
		return 1
	}
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}
