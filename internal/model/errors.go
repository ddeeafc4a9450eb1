package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a phase failure for retry decisions. The kind, not
// the concrete Go type, decides whether an error is worth retrying: provider
// outages and billing hiccups heal with time, a bad API key never does.
type ErrorKind string

// Error kinds. The first seven are non-retryable in every retry profile;
// the remaining kinds describe transient conditions that are retried.
const (
	// ErrKindAuthentication means the provider rejected our credentials.
	ErrKindAuthentication ErrorKind = "authentication"

	// ErrKindPermission means the credentials lack access to the resource.
	ErrKindPermission ErrorKind = "permission"

	// ErrKindInvalidRequest means the provider rejected the request shape.
	ErrKindInvalidRequest ErrorKind = "invalid_request"

	// ErrKindRequestTooLarge means the payload exceeded provider limits.
	ErrKindRequestTooLarge ErrorKind = "request_too_large"

	// ErrKindConfiguration means the run configuration itself is broken.
	ErrKindConfiguration ErrorKind = "configuration"

	// ErrKindInvalidTarget means the assessment target is unreachable or
	// malformed in a way no retry can fix.
	ErrKindInvalidTarget ErrorKind = "invalid_target"

	// ErrKindExecutionLimit means a hard execution ceiling was exceeded.
	ErrKindExecutionLimit ErrorKind = "execution_limit"

	// ErrKindCancelled marks cooperative run cancellation.
	ErrKindCancelled ErrorKind = "cancelled"

	// ErrKindTerminated marks forced run termination.
	ErrKindTerminated ErrorKind = "terminated"

	// ErrKindTimeout means a single activity attempt exceeded its budget.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindHeartbeat means the activity missed its liveness deadline.
	ErrKindHeartbeat ErrorKind = "heartbeat_timeout"

	// ErrKindTransient covers provider, network, and billing failures that
	// are expected to heal with time.
	ErrKindTransient ErrorKind = "transient"
)

// ClassifiedError carries an ErrorKind alongside the failure message so the
// activity gateway can decide between retrying and failing fast.
type ClassifiedError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message is the human-readable failure reason.
	Message string

	// Err is the wrapped cause, if any.
	Err error
}

// NewClassifiedError creates a ClassifiedError with a formatted message.
func NewClassifiedError(kind ErrorKind, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapClassified wraps an existing error with a kind.
func WrapClassified(kind ErrorKind, err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
	}
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/errors.As chains.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from an error chain. Errors without a
// ClassifiedError in their chain are treated as transient, which errs on the
// side of retrying: an unclassified failure is more likely a flaky provider
// than a broken configuration.
func KindOf(err error) ErrorKind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ErrKindTransient
}
