/*
Package engine implements the leave lifecycle core: the request state
machine, the per-employee balance ledger, and the policy validator.

PURPOSE:
  An absence request moves through a two-tier approval chain (manager,
  then optionally HR) while an authoritative balance ledger guarantees
  that days are never double-deducted and never go negative. The engine
  is specified against abstract repositories, so the same core runs on
  SQLite, PostgreSQL, or the in-memory store used in tests.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: a day quantity at half-day granularity (decimal, never float)
  - LeaveRequest: the workflow entity, owned by the state machine
  - LeaveType: administrative configuration, read-only to the engine
  - BalanceRecord: the ledger row for (employee, leave type, period year)

DESIGN PRINCIPLES:
  1. Precision: shopspring/decimal for all day quantities
  2. Type safety: strong typing for identifiers
  3. Optimistic concurrency: every mutable row carries a version counter
  4. Requests are never deleted; cancellation and rejection are terminal
     states, not row removal

SEE ALSO:
  - lifecycle.go: the transition table and state machine
  - ledger.go: reserve/commit/release/rollover
  - validator.go: policy checks against a PolicyConfig snapshot
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Day quantity at half-day granularity
// =============================================================================

// Days is a non-negative day quantity. All ledger and request math uses
// decimals so 0.5-day boundaries never accumulate float error.
type Days struct {
	Value decimal.Decimal
}

var two = decimal.NewFromInt(2)

func NewDays(value float64) Days      { return Days{Value: decimal.NewFromFloat(value)} }
func DaysFromInt(value int) Days      { return Days{Value: decimal.NewFromInt(int64(value))} }
func ZeroDays() Days                  { return Days{Value: decimal.Zero} }
func (d Days) Add(o Days) Days        { return Days{Value: d.Value.Add(o.Value)} }
func (d Days) Sub(o Days) Days        { return Days{Value: d.Value.Sub(o.Value)} }
func (d Days) IsZero() bool           { return d.Value.IsZero() }
func (d Days) IsNegative() bool       { return d.Value.IsNegative() }
func (d Days) IsPositive() bool       { return d.Value.IsPositive() }
func (d Days) Equal(o Days) bool      { return d.Value.Equal(o.Value) }
func (d Days) GreaterThan(o Days) bool { return d.Value.GreaterThan(o.Value) }
func (d Days) LessThan(o Days) bool   { return d.Value.LessThan(o.Value) }
func (d Days) String() string         { return d.Value.String() }

func (d Days) Min(o Days) Days {
	if d.LessThan(o) {
		return d
	}
	return o
}

// IsHalfDayAligned reports whether the quantity is a multiple of 0.5.
func (d Days) IsHalfDayAligned() bool {
	return d.Value.Mul(two).IsInteger()
}

// ParseDays parses a decimal day quantity (e.g. "2.5").
func ParseDays(s string) (Days, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Days{}, err
	}
	return Days{Value: v}, nil
}

// =============================================================================
// IDENTIFIERS AND ROLES
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type RequestID string
type ActorID string

// Role is the resolved actor role supplied by the identity layer.
// The engine trusts this input and performs no authentication itself.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleHR       Role = "HR"
	RoleSystem   Role = "SYSTEM"
)

// =============================================================================
// LEAVE TYPE - Administrative configuration, referenced but never mutated
// =============================================================================

type LeaveType struct {
	ID             LeaveTypeID
	Name           string
	MaxDaysPerYear Days // annual allocation granted at period rollover

	// RequiresApproval false means requests auto-transition to APPROVED.
	RequiresApproval bool

	// RequiresHRApproval adds the PENDING_HR stage after manager approval.
	RequiresHRApproval bool

	AllowsCarryOver bool
	CarryOverLimit  Days

	// MinDurationUnit is the smallest bookable unit (0.5 or 1).
	MinDurationUnit Days

	CreatedAt time.Time
}

// =============================================================================
// LEAVE REQUEST - The workflow entity
// =============================================================================

// Decision records one approver's verdict.
type Decision struct {
	Approved bool
	By       ActorID
	At       time.Time
	Notes    string
}

// LeaveRequest is created on submit and mutated only by the state machine.
// WorkingDays is computed from the working-day calendar at submission time
// and is immutable thereafter; recomputing it later would desynchronize the
// ledger from the request.
type LeaveRequest struct {
	ID          RequestID
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID

	StartDate Date
	EndDate   Date

	// Half-day boundaries: the first and/or last day may count as 0.5.
	StartHalf bool
	EndHalf   bool

	WorkingDays Days
	Reason      string

	Status          Status
	CurrentApprover Role // which role the request is waiting on, empty when terminal

	AppliedAt       time.Time
	ManagerDecision *Decision
	HRDecision      *Decision

	// Optimistic concurrency control.
	Version   int64
	UpdatedAt time.Time
}

// PeriodYear returns the ledger period this request draws from.
func (r *LeaveRequest) PeriodYear() int { return r.StartDate.Year() }

// Overlaps reports whether two date ranges share at least one day.
func (r *LeaveRequest) Overlaps(start, end Date) bool {
	return !r.StartDate.After(end) && !start.After(r.EndDate)
}

// Clone returns a deep copy; stores hand out copies so callers never
// alias persisted state.
func (r *LeaveRequest) Clone() *LeaveRequest {
	cp := *r
	if r.ManagerDecision != nil {
		d := *r.ManagerDecision
		cp.ManagerDecision = &d
	}
	if r.HRDecision != nil {
		d := *r.HRDecision
		cp.HRDecision = &d
	}
	return &cp
}

// =============================================================================
// BALANCE RECORD - One ledger row per (employee, leave type, period year)
// =============================================================================

// BalanceRecord tracks allocation and usage for one period. The central
// correctness property, checked on every mutation:
//
//	used + reserved <= allocated + carriedOver
//
// Records are created at period rollover or by administrative allocation,
// and mutated only through the ledger's reserve/commit/release.
type BalanceRecord struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	PeriodYear  int

	Allocated   Days
	Used        Days
	CarriedOver Days
	Reserved    Days // held against in-flight requests

	Version   int64
	UpdatedAt time.Time
}

// Available returns what can still be reserved.
func (b *BalanceRecord) Available() Days {
	return b.Allocated.Add(b.CarriedOver).Sub(b.Used).Sub(b.Reserved)
}

// CheckInvariant verifies the ledger invariant and non-negativity of all
// components. A violation is a defect, never silently clamped.
func (b *BalanceRecord) CheckInvariant() error {
	if b.Allocated.IsNegative() || b.Used.IsNegative() ||
		b.CarriedOver.IsNegative() || b.Reserved.IsNegative() {
		return ErrInvalidAmount
	}
	if b.Used.Add(b.Reserved).GreaterThan(b.Allocated.Add(b.CarriedOver)) {
		return ErrInsufficientBalance
	}
	return nil
}

// BalanceKey identifies a ledger row.
type BalanceKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	PeriodYear  int
}

func (b *BalanceRecord) Key() BalanceKey {
	return BalanceKey{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, PeriodYear: b.PeriodYear}
}
