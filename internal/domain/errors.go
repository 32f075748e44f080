package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Movement errors
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMovementNotFound    = errors.New("movement not found")
	ErrCategoryNotFound    = errors.New("category not found")

	// Unit of work errors
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")
	ErrPersistence         = errors.New("persistence failure")
	ErrAuditWrite          = errors.New("audit log write failed")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError is returned when an outgoing movement would
// drive the balance below zero.
type InsufficientBalanceError struct {
	Attempted decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: attempted %s, available %s",
		e.Attempted.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ConcurrencyConflictError is returned once retries are exhausted.
type ConcurrencyConflictError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	return []error{ErrConcurrencyConflict, e.Err}
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err unless it already carries a domain meaning.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || errors.Is(err, ErrPersistence) || errors.Is(err, ErrAuditWrite) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// AuditWriteError is returned when the audit entry of a unit of work
// could not be stored. The whole unit is rolled back.
type AuditWriteError struct {
	MovementID int64
	Action     AuditAction
	Err        error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit %s for movement %d: %v", e.Action, e.MovementID, e.Err)
}

func (e *AuditWriteError) Unwrap() []error {
	return []error{ErrAuditWrite, e.Err}
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}

// IsRetryable reports whether the caller may retry the operation as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
