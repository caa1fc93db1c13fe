package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrConsistency = errors.New("ledger consistency failure")
	// ErrTransient marks storage failures that may succeed on retry
	// (busy database, serialization failure, deadlock).
	ErrTransient = errors.New("transient storage failure")
	// ErrNegativeAccumulator is returned when an increment would take a
	// spent accumulator below zero.
	ErrNegativeAccumulator = errors.New("accumulator would become negative")

	ErrInvalidDay       = fmt.Errorf("%w: invalid day", ErrValidation)
	ErrInvalidMonth     = fmt.Errorf("%w: invalid month", ErrValidation)
	ErrInvalidAmount    = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrEmptyDescription = fmt.Errorf("%w: empty description", ErrValidation)
)

// NotFoundError reports a missing department, project, entry or allocation.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports a uniqueness or referential conflict.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConsistencyError is returned when a ledger mutation could not keep the
// entry and its accumulators in step. It carries enough context to
// reconcile by hand.
type ConsistencyError struct {
	Op           string
	EntryID      string
	DepartmentID string
	ProjectID    string
	Delta        decimal.Decimal
	Attempts     int
	Err          error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("ledger %s of entry %q failed (department=%q project=%q delta=%s attempts=%d)",
		e.Op, e.EntryID, e.DepartmentID, e.ProjectID, e.Delta.StringFixed(2), e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

func (e *ConsistencyError) Unwrap() error { return e.Err }

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
