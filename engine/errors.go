/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Validator and ledger failures are returned as typed results so the
  orchestrator can distinguish business rejections (user-facing,
  expected) from system faults (logged, alerted).

ERROR CATEGORIES:
  1. Policy violations  - recoverable by resubmitting with different dates
  2. Ledger errors      - insufficient balance, missing reservation
  3. Workflow errors    - illegal transitions for the current state
  4. Concurrency errors - transient, caller retries the whole operation

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, engine.ErrConcurrentModification) {
        // retry the operation
    }

SEE ALSO:
  - ledger.go: returns ErrInsufficientBalance / ErrReserveNotFound
  - lifecycle.go: returns InvalidTransitionError
  - validator.go: returns PolicyViolationError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPolicyViolation is the base of all validator rejections.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrInsufficientBalance is returned when a reservation would exceed
	// allocated + carried-over days. This is a normal rejection outcome,
	// not a system fault.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrReserveNotFound is returned by commit/release when no matching
	// reservation exists. Defensive invariant check.
	ErrReserveNotFound = errors.New("reservation not found")

	// ErrInvalidTransition is returned when an actor attempts an action
	// that is illegal for the request's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a conflict. Transient; callers retry the whole operation.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a request, balance record, or leave type
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a row whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidAmount is returned for negative or misaligned day
	// quantities. Rejected at the boundary, never silently clamped.
	ErrInvalidAmount = errors.New("invalid amount: must be positive at half-day granularity")

	// ErrInvalidPeriod is returned when a request's end date precedes its start.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// REASON CODES - Stable identifiers for validator rejections
// =============================================================================

type ReasonCode string

const (
	ReasonAdvanceNotice  ReasonCode = "advance_notice"
	ReasonMaxConsecutive ReasonCode = "max_consecutive"
	ReasonMinDuration    ReasonCode = "min_duration"
	ReasonOverlap        ReasonCode = "overlap"
	ReasonBalance        ReasonCode = "insufficient_balance"
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending constraint value
// =============================================================================

// PolicyViolationError reports which check failed, the configured limit,
// and the value the request actually had.
type PolicyViolationError struct {
	Code  ReasonCode
	Limit string // the constraint value, e.g. "3"
	Given string // the offending value, e.g. "1"
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s: requires %s, given %s", e.Code, e.Limit, e.Given)
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	PeriodYear  int
	Available   Days
	Requested   Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransitionError reports the illegal (state, action, role) triple.
type InvalidTransitionError struct {
	Status Status
	Action Action
	Role   Role
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s by %s in state %s", e.Action, e.Role, e.Status)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business rejection rather
// than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
