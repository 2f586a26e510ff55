package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/kitchensync/internal/ir"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidEffect: the effect pair is malformed or cannot be applied
	// to the current entities. Returned synchronously; nothing changed.
	ErrCodeInvalidEffect ErrorCode = "INVALID_EFFECT"

	// ErrCodeDeliveryError: a transient backend failure. Retried with backoff.
	ErrCodeDeliveryError ErrorCode = "DELIVERY_ERROR"

	// ErrCodeMaxRetriesExceeded: terminal until RetrySync.
	ErrCodeMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"

	// ErrCodeSuperseded: lost a conflict. Terminal; the caller must re-derive
	// the action against the new remote state.
	ErrCodeSuperseded ErrorCode = "SUPERSEDED"

	// ErrCodeStaleState: saved state was discarded on load. Logged only.
	ErrCodeStaleState ErrorCode = "STALE_STATE"

	// ErrCodePersistFailed: the persistence write failed and the mutation
	// was rolled back.
	ErrCodePersistFailed ErrorCode = "PERSIST_FAILED"
)

// Error is a structured engine error.
type Error struct {
	Code     ErrorCode
	Message  string
	ActionID string
	EntityID string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ActionID != "" {
		msg += fmt.Sprintf(" (action=%s)", e.ActionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidEffect reports whether err is an InvalidEffect rejection.
// Uses errors.As to handle wrapped errors.
func IsInvalidEffect(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeInvalidEffect
	}
	return errors.Is(err, ir.ErrInvalidEffect)
}

// IsPersistFailed reports whether err is a rolled-back persistence failure.
func IsPersistFailed(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Code == ErrCodePersistFailed
}

func invalidEffect(actionID string, err error) *Error {
	return &Error{
		Code:     ErrCodeInvalidEffect,
		Message:  "effect rejected",
		ActionID: actionID,
		Err:      err,
	}
}

func persistFailed(actionID string, err error) *Error {
	return &Error{
		Code:     ErrCodePersistFailed,
		Message:  "state not saved, change rolled back",
		ActionID: actionID,
		Err:      err,
	}
}

// CodeForReason maps a sync failure reason to its error code.
func CodeForReason(r ir.FailureReason) ErrorCode {
	switch r {
	case ir.ReasonMaxRetriesExceeded:
		return ErrCodeMaxRetriesExceeded
	case ir.ReasonSuperseded:
		return ErrCodeSuperseded
	}
	return ErrCodeDeliveryError
}
