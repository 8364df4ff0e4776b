package llm

import (
	"errors"
)

// Completion errors are classified so the client knows whether retrying
// the same endpoint can help. Rate limits and 5xx responses are
// transient; bad requests and auth failures are fatal and go straight
// to the next endpoint in the fallback chain.

// TransientError marks a failure worth retrying against the same
// endpoint.
type TransientError struct {
	cause error
}

func (e *TransientError) Error() string {
	return e.cause.Error()
}

func (e *TransientError) Unwrap() error {
	return e.cause
}

// NewTransientError classifies err as retryable.
func NewTransientError(err error) error {
	return &TransientError{cause: err}
}

// FatalError marks a failure that retrying cannot fix.
type FatalError struct {
	cause error
}

func (e *FatalError) Error() string {
	return e.cause.Error()
}

func (e *FatalError) Unwrap() error {
	return e.cause
}

// NewFatalError classifies err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{cause: err}
}

// IsTransient reports whether err carries a transient classification
// anywhere in its chain.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err carries a fatal classification anywhere
// in its chain.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
