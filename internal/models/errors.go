package models

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds is returned when a debit would drive a balance
// below zero.
var ErrInsufficientFunds = errors.New("insufficient funds for this debit operation")

// ValidationError reports malformed input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// EntityNotFoundError reports a missing referenced entity (usually the user).
type EntityNotFoundError struct {
	Entity string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

// DuplicateRequestError reports an idempotency key that was already applied
// for the user. Existing carries the previously committed transaction so the
// caller can replay it instead of applying the operation twice.
type DuplicateRequestError struct {
	Existing *Transaction
}

func (e *DuplicateRequestError) Error() string {
	return "idempotency key already applied for this user"
}

// CollaboratorUnavailableError reports a transient failure reaching the user
// service. It is distinct from a definitive "user does not exist".
type CollaboratorUnavailableError struct {
	Cause error
}

func (e *CollaboratorUnavailableError) Error() string {
	return fmt.Sprintf("user service unavailable: %v", e.Cause)
}

func (e *CollaboratorUnavailableError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps any store failure that aborted the atomic section.
// Nothing partial was committed, so the whole operation is safe to retry.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
