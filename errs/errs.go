// Package errs defines the small error-kind vocabulary the scheduler uses
// to decide retry-vs-fail without exception-based control flow.
package errs

import "fmt"

// Kind classifies an activity failure for retry policy purposes.
type Kind string

const (
	// Transient failures are retried per the activity's backoff policy.
	Transient Kind = "transient"
	// Permanent failures skip remaining retries and fail the job immediately.
	Permanent Kind = "permanent"
	// Cancelled is treated as permanent but reported with a fixed message.
	Cancelled Kind = "cancelled"
)

// Error is a typed activity error carrying a retry-policy-relevant kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Transientf builds a Transient error.
func Transientf(format string, args ...any) *Error {
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...)}
}

// Permanentf builds a Permanent error.
func Permanentf(format string, args ...any) *Error {
	return &Error{Kind: Permanent, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Transient error wrapping cause, unless cause is already
// an *Error, in which case its kind is preserved.
func Wrap(cause error, format string, args ...any) *Error {
	if e, ok := cause.(*Error); ok {
		return e
	}
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewCancelled builds the fixed cancellation error used by the scheduler.
func NewCancelled() *Error {
	return &Error{Kind: Cancelled, Message: "cancelled"}
}

// IsPermanent reports whether err should skip remaining retries.
func IsPermanent(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == Permanent || e.Kind == Cancelled
}
