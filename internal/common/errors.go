// Package common provides shared utilities and error types used across the
// reconciliation engine.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// ErrNotFound indicates the requested record does not exist or is
	// outside the caller's tenant scope.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input that will never succeed on
	// retry.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a concurrent operation already applied an
	// active match to the transaction. The caller should re-fetch state.
	ErrConflict = errors.New("transaction already has an active match")
)

// ErrBatchTooLarge indicates a batch exceeded the configured maximum. It is
// a validation error: the caller must split the batch, retrying is useless.
var ErrBatchTooLarge = fmt.Errorf("%w: batch exceeds maximum size", ErrValidation)

// ValidationError describes which input field failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LearningUpdateError wraps a failure while updating the pattern store. It is
// always logged and never propagated as a failure of the user-facing
// confirm/reject action.
type LearningUpdateError struct {
	Err           error
	TransactionID string
}

func (e *LearningUpdateError) Error() string {
	return fmt.Sprintf("learning update for transaction %s failed: %v", e.TransactionID, e.Err)
}

func (e *LearningUpdateError) Unwrap() error {
	return e.Err
}
