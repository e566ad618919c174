/*
lifecycle.go - The request state machine

PURPOSE:
  Owns the authoritative status of each leave request and the legal
  transitions between states. Every transition is paired with its ledger
  effect and the status change is applied only after the ledger effect
  succeeds, so a failed ledger call leaves the request untouched.

STATES:
  PENDING_MANAGER -> PENDING_HR (only when the type requires HR approval)
                  -> APPROVED / REJECTED / CANCELLED (terminal)

TRANSITION TABLE:
  (none,            submit,  employee) -> PENDING_MANAGER
  (PENDING_MANAGER, approve, manager)  -> PENDING_HR | APPROVED
  (PENDING_MANAGER, reject,  manager)  -> REJECTED
  (PENDING_HR,      approve, hr)       -> APPROVED
  (PENDING_HR,      reject,  hr)       -> REJECTED
  (PENDING_MANAGER, cancel,  employee) -> CANCELLED
  (PENDING_HR,      cancel,  employee) -> CANCELLED
  anything else                        -> InvalidTransitionError

LEDGER PAIRING:
  submit               -> reserve  (performed by the orchestrator at creation)
  approve to APPROVED  -> commit
  reject / cancel      -> release
  approve to PENDING_HR has no ledger effect; the reservation stays held.

AUTO-APPROVAL:
  A request eligible for auto-approval is created directly in APPROVED
  with the balance committed; the approval stages are skipped entirely,
  not transitioned through silently. See workflow.go.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// STATES AND ACTIONS
// =============================================================================

type Status string

const (
	// StatusNone is the pre-submission pseudo-state; it is never persisted.
	StatusNone           Status = ""
	StatusPendingManager Status = "PENDING_MANAGER"
	StatusPendingHR      Status = "PENDING_HR"
	StatusApproved       Status = "APPROVED"
	StatusRejected       Status = "REJECTED"
	StatusCancelled      Status = "CANCELLED"
)

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// AllStatuses and AllActions enumerate the closed sets, used by the
// transition-completeness tests and the HTTP layer.
var AllStatuses = []Status{StatusPendingManager, StatusPendingHR, StatusApproved, StatusRejected, StatusCancelled}
var AllActions = []Action{ActionSubmit, ActionApprove, ActionReject, ActionCancel}

// IsTerminal reports whether no further transitions are legal.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

type transitionKey struct {
	From   Status
	Action Action
	Role   Role
}

// pendingHRConditional marks the one transition whose target depends on
// the leave type.
const pendingHRConditional = Status("__manager_approved__")

var transitionTable = map[transitionKey]Status{
	{StatusNone, ActionSubmit, RoleEmployee}:           StatusPendingManager,
	{StatusPendingManager, ActionApprove, RoleManager}: pendingHRConditional,
	{StatusPendingManager, ActionReject, RoleManager}:  StatusRejected,
	{StatusPendingHR, ActionApprove, RoleHR}:           StatusApproved,
	{StatusPendingHR, ActionReject, RoleHR}:            StatusRejected,
	{StatusPendingManager, ActionCancel, RoleEmployee}: StatusCancelled,
	{StatusPendingHR, ActionCancel, RoleEmployee}:      StatusCancelled,
}

// NextStatus resolves the transition table for a (state, action, role)
// triple. Any pair not in the table fails with InvalidTransitionError.
func NextStatus(from Status, action Action, role Role, lt LeaveType) (Status, error) {
	next, ok := transitionTable[transitionKey{From: from, Action: action, Role: role}]
	if !ok {
		return StatusNone, &InvalidTransitionError{Status: from, Action: action, Role: role}
	}
	if next == pendingHRConditional {
		if lt.RequiresHRApproval {
			return StatusPendingHR, nil
		}
		return StatusApproved, nil
	}
	return next, nil
}

// =============================================================================
// STATE MACHINE - Applies transitions with their paired ledger effect
// =============================================================================

// StateMachine applies approve/reject/cancel transitions to an existing
// request. The ledger effect runs first; the status change happens only
// after it succeeds, so there is no partial state.
type StateMachine struct {
	Ledger *BalanceLedger
	Clock  func() time.Time
}

func NewStateMachine(ledger *BalanceLedger) *StateMachine {
	return &StateMachine{Ledger: ledger, Clock: time.Now}
}

func (m *StateMachine) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// applied describes what a successful transition did, so the caller can
// compensate the ledger if the subsequent persistence write fails.
type applied struct {
	Next      Status
	Committed bool // days moved reserved -> used
	Released  bool // days returned from reserved
}

// Apply transitions req in place. On error the request is unmodified.
func (m *StateMachine) Apply(ctx context.Context, req *LeaveRequest, lt LeaveType, action Action, actor ActorID, role Role, notes string) (applied, error) {
	next, err := NextStatus(req.Status, action, role, lt)
	if err != nil {
		return applied{}, err
	}

	out := applied{Next: next}
	key := BalanceKey{EmployeeID: req.EmployeeID, LeaveTypeID: req.LeaveTypeID, PeriodYear: req.PeriodYear()}

	// Ledger effect first. A failed ledger call aborts the transition.
	switch {
	case action == ActionApprove && next == StatusApproved:
		if err := m.Ledger.Commit(ctx, key, req.WorkingDays); err != nil {
			return applied{}, err
		}
		out.Committed = true
	case action == ActionReject || action == ActionCancel:
		if err := m.Ledger.Release(ctx, key, req.WorkingDays); err != nil {
			return applied{}, err
		}
		out.Released = true
	}

	now := m.now()
	decision := &Decision{Approved: action == ActionApprove, By: actor, At: now, Notes: notes}
	switch role {
	case RoleManager:
		req.ManagerDecision = decision
	case RoleHR:
		req.HRDecision = decision
	}

	req.Status = next
	req.UpdatedAt = now
	switch next {
	case StatusPendingManager:
		req.CurrentApprover = RoleManager
	case StatusPendingHR:
		req.CurrentApprover = RoleHR
	default:
		req.CurrentApprover = ""
	}
	return out, nil
}
