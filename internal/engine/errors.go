package engine

import (
	"errors"
	"fmt"
)

// Error is returned for events the engine could not apply.
//
// StalenessIgnored and DuplicateTransition are not errors: the first is
// logged at Debug, the second is reported as an ir.Outcome.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the entity key of the affected event, when known.
	Key string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeMalformedEvent indicates the event was rejected before reaching
	// the merge logic. No state was touched.
	ErrCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"

	// ErrCodePersistenceFailure indicates the store could not complete the
	// operation. Stored state is unchanged; callers may retry.
	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsMalformed returns true if err is a malformed-event error.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeMalformedEvent
	}
	return false
}

// IsPersistence returns true if err is a persistence failure.
// Uses errors.As to handle wrapped errors.
func IsPersistence(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodePersistenceFailure
	}
	return false
}

// NewMalformedError creates an Error for an event that failed validation.
func NewMalformedError(key string, err error) *Error {
	return &Error{
		Code:    ErrCodeMalformedEvent,
		Message: "event rejected",
		Key:     key,
		Err:     err,
	}
}

// NewPersistenceError creates an Error for a failed store operation.
func NewPersistenceError(key string, err error) *Error {
	return &Error{
		Code:    ErrCodePersistenceFailure,
		Message: "store operation failed",
		Key:     key,
		Err:     err,
	}
}
