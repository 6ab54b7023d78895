package action

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistryFrozen is returned by Register once the engine has started.
	ErrRegistryFrozen = errors.New("action registry is frozen")

	errPermanent = errors.New("permanent failure")
	errRetryable = errors.New("retryable failure")
)

// ValidationError reports bad parameters. It is never retried.
type ValidationError struct {
	Action  string
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	prefix := "invalid params"
	if e.Action != "" {
		prefix = fmt.Sprintf("invalid params for %s", e.Action)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ExecutionError wraps a handler failure for one attempt.
type ExecutionError struct {
	Action  string
	Attempt int
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %s failed on attempt %d: %v", e.Action, e.Attempt, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

type UnknownActionError struct {
	ActionType string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.ActionType)
}

type DuplicateActionError struct {
	ActionType string
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("action type %q already registered", e.ActionType)
}

type markedError struct {
	mark  error
	cause error
}

func (e *markedError) Error() string { return e.cause.Error() }

func (e *markedError) Unwrap() []error { return []error{e.cause, e.mark} }

// Permanent marks err so the engine stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{mark: errPermanent, cause: err}
}

// Retryable marks err as safe to retry even for non-idempotent handlers,
// typically because the failure happened before any side effect.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{mark: errRetryable, cause: err}
}

func IsPermanent(err error) bool { return errors.Is(err, errPermanent) }

func IsRetryable(err error) bool { return errors.Is(err, errRetryable) }

func AsValidationError(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
