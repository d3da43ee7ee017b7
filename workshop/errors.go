/*
errors.go - Error taxonomy for the workshop engine

ERROR CATEGORIES:
  1. Validation  - missing or malformed input (empty reason, missing job id)
  2. Not found   - job, inventory item or employee absent
  3. State       - illegal transition, or edit/delete on a locked job
  4. Arithmetic  - impossible stock-take conversion (non-positive unit weight)
  5. Conflict    - concurrent write detected by the store; retried by the
                   services and surfaced as internal once retries run out

USAGE:
  Structured errors unwrap to their sentinel, so callers can branch with
  errors.Is and still read details with errors.As:

    if errors.Is(err, workshop.ErrInvalidState) { ... }

    var se *workshop.StateError
    if errors.As(err, &se) { log.Println(se.Status) }

  KindOf maps any error onto the kinds exposed at the API boundary.
*/
package workshop

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned for transitions the table does not allow and
	// for edits of a job that is locked by a running timer or pending QC.
	ErrInvalidState = errors.New("invalid job state")

	ErrArithmetic = errors.New("arithmetic error")

	// ErrConcurrentModification is returned by a store when another writer
	// changed a record inside the transaction window.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "job", "item", "employee"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StateError describes an action rejected because of the job's status.
type StateError struct {
	JobID  JobID
	Status Status
	Action string // event name, "edit" or "delete"
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s job %s while %s", e.Action, e.JobID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

type ArithmeticError struct {
	ItemID  ItemID
	Message string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("item %s: %s", e.ItemID, e.Message)
}

func (e *ArithmeticError) Unwrap() error { return ErrArithmetic }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrArithmetic)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorKind is the coarse error category reported to API callers.
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindInvalidArgument    ErrorKind = "invalid-argument"
	KindNotFound           ErrorKind = "not-found"
	KindFailedPrecondition ErrorKind = "failed-precondition"
	KindInternal           ErrorKind = "internal"
)

// KindOf classifies err. Exhausted conflict retries and store failures are
// internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrArithmetic):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindFailedPrecondition
	default:
		return KindInternal
	}
}
