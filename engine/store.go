/*
store.go - Repository interfaces for requests and balance records

PURPOSE:
  Defines the contract between the engine and persistence. The engine is
  storage-agnostic: the same core runs against SQLite, PostgreSQL, or the
  in-memory store used in tests.

OPTIMISTIC CONCURRENCY:
  Every mutable row carries a monotonically increasing version. Update
  takes the version the caller read; a mismatch means another writer got
  there first and the store returns ErrConcurrentModification. Multiple
  process instances may run concurrently, so in-process locks alone are
  never sufficient.

IMPLEMENTATIONS:
  - engine/store: in-memory, for tests and development
  - store/sqlite: SQLite (WAL), the default single-node deployment
  - store/postgres: PostgreSQL via pgx, for multi-instance deployments
*/
package engine

import "context"

// RequestStore persists leave requests. Rows are never deleted;
// cancellation and rejection are terminal states, not removal.
type RequestStore interface {
	// Get returns the request or ErrNotFound.
	Get(ctx context.Context, id RequestID) (*LeaveRequest, error)

	// Create persists a new request. Returns ErrAlreadyExists on key clash.
	Create(ctx context.Context, req *LeaveRequest) error

	// Update persists a mutation if the stored version still equals
	// expectedVersion, bumping the version. Returns
	// ErrConcurrentModification on a version mismatch.
	Update(ctx context.Context, req *LeaveRequest, expectedVersion int64) error

	// ListByEmployee returns all requests for an employee, newest first.
	ListByEmployee(ctx context.Context, employeeID EmployeeID) ([]*LeaveRequest, error)

	// ListActiveByEmployee returns the employee's PENDING_* and APPROVED
	// requests, used for overlap validation.
	ListActiveByEmployee(ctx context.Context, employeeID EmployeeID) ([]*LeaveRequest, error)

	// ListPendingByApprover returns requests currently waiting on the role.
	ListPendingByApprover(ctx context.Context, approver Role) ([]*LeaveRequest, error)
}

// BalanceStore persists balance records with compare-and-swap semantics.
type BalanceStore interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, key BalanceKey) (*BalanceRecord, error)

	// Create persists a new record. Returns ErrAlreadyExists when the key
	// is taken, which rollover relies on for idempotency.
	Create(ctx context.Context, rec *BalanceRecord) error

	// Update persists a mutation if the stored version still equals
	// expectedVersion. Returns ErrConcurrentModification on mismatch.
	Update(ctx context.Context, rec *BalanceRecord, expectedVersion int64) error

	// ListByEmployee returns all records for an employee, for balance views.
	ListByEmployee(ctx context.Context, employeeID EmployeeID) ([]*BalanceRecord, error)
}

// LeaveTypeStore provides the administrative leave type catalog.
// Read-mostly; the engine never mutates leave types.
type LeaveTypeStore interface {
	Get(ctx context.Context, id LeaveTypeID) (*LeaveType, error)
	List(ctx context.Context) ([]*LeaveType, error)
	Save(ctx context.Context, lt *LeaveType) error
}
