// Package errors defines the error taxonomy of the resolver. Adapter and
// download failures are classified so that callers can decide between retry,
// abort, and attach-and-continue without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies a resolver error.
type ErrorType string

const (
	// ErrorTypeInvalidInput covers malformed workflows and configuration.
	// Never retried; aborts the operation that received the input.
	ErrorTypeInvalidInput ErrorType = "invalid_input"

	// ErrorTypeNotFound means a catalog returned no matching artifact.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeTransient covers timeouts, 5xx, connection resets, 408/429.
	// Retried per policy.
	ErrorTypeTransient ErrorType = "transient"

	// ErrorTypePermanent covers other 4xx, disk-full, unsupported targets.
	ErrorTypePermanent ErrorType = "permanent"

	// ErrorTypeAuthRequired means credentials are missing or rejected.
	ErrorTypeAuthRequired ErrorType = "auth_required"

	// ErrorTypeCancelled reports cooperative cancellation.
	ErrorTypeCancelled ErrorType = "cancelled"

	// ErrorTypeTargetBusy reports an enqueue against a target path already
	// owned by an active task.
	ErrorTypeTargetBusy ErrorType = "target_busy"

	// ErrorTypeIntegrity reports a completed transfer whose size disagrees
	// with the declared size.
	ErrorTypeIntegrity ErrorType = "integrity"
)

// Error is the concrete error carried through the pipeline.
type Error struct {
	Type       ErrorType
	Operation  string
	Detail     string
	Underlying error
	Timestamp  time.Time
}

// New creates an Error of the given type.
func New(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Operation: op, Underlying: err, Timestamp: time.Now()}
}

// Newf creates an Error with a formatted detail and no underlying cause.
func Newf(t ErrorType, op, format string, args ...any) *Error {
	return &Error{Type: t, Operation: op, Detail: fmt.Sprintf(format, args...), Timestamp: time.Now()}
}

// WithDetail attaches human-readable context to the error.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Underlying != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Type, e.Operation, e.Detail, e.Underlying)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Operation, e.Detail)
	case e.Underlying != nil:
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Operation, e.Underlying)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Operation)
	}
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// TypeOf returns the classification of err, or empty when err is not a
// resolver error.
func TypeOf(err error) ErrorType {
	var re *Error
	if errors.As(err, &re) {
		return re.Type
	}
	return ""
}

// IsType reports whether err carries the given classification.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// Retryable reports whether err should be retried under the transient policy.
func Retryable(err error) bool {
	return IsType(err, ErrorTypeTransient)
}

// FromStatus classifies an HTTP response status per the retry policy:
// 5xx, 408 and 429 are transient; 401/403 are auth; 404 is not-found; other
// 4xx are permanent.
func FromStatus(op string, status int) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Newf(ErrorTypeAuthRequired, op, "status %d", status)
	case status == http.StatusNotFound:
		return Newf(ErrorTypeNotFound, op, "status %d", status)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return Newf(ErrorTypeTransient, op, "status %d", status)
	case status >= 500:
		return Newf(ErrorTypeTransient, op, "status %d", status)
	case status >= 400:
		return Newf(ErrorTypePermanent, op, "status %d", status)
	default:
		return Newf(ErrorTypePermanent, op, "unexpected status %d", status)
	}
}
