/*
workflow.go - The orchestrator: submit, decide, cancel

PURPOSE:
  The façade tying policy store, validator, ledger, and state machine
  together for each public operation. Every operation:
    (a) loads the current request and balance snapshot,
    (b) invokes the validator where applicable,
    (c) invokes the state machine transition (which invokes the ledger),
    (d) persists the result,
    (e) emits exactly one domain event after the write commits.

ATOMICITY:
  The ledger effect and the request write are kept consistent by
  compensation: if the request write loses its optimistic-concurrency
  race after the ledger effect already applied, the effect is reversed
  before the error surfaces, so no partial state survives. Callers retry
  the whole operation on ErrConcurrentModification.

AUTO-APPROVAL:
  At submission, when the type needs no approval or the auto-approve
  threshold covers the request, the request is created directly in
  APPROVED with the balance committed; the approval stages are skipped
  entirely. The single emitted event is LeaveApproved with a SYSTEM actor.
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Orchestrator wires the engine components together. All fields are
// required except Clock.
type Orchestrator struct {
	Requests RequestStore
	Types    LeaveTypeStore
	Ledger   *BalanceLedger
	Machine  *StateMachine
	Policies *PolicyStore
	Calendar *WorkingCalendar
	Events   Publisher
	Clock    func() time.Time
}

func NewOrchestrator(requests RequestStore, types LeaveTypeStore, ledger *BalanceLedger, policies *PolicyStore, calendar *WorkingCalendar, events Publisher) *Orchestrator {
	if events == nil {
		events = NopPublisher{}
	}
	return &Orchestrator{
		Requests: requests,
		Types:    types,
		Ledger:   ledger,
		Machine:  NewStateMachine(ledger),
		Policies: policies,
		Calendar: calendar,
		Events:   events,
		Clock:    time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput is the boundary-sanitized submission payload. Identity is
// resolved by the caller; the engine trusts it.
type SubmitInput struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	StartDate   Date
	EndDate     Date
	StartHalf   bool
	EndHalf     bool
	Reason      string
}

// Submit validates a request draft, reserves (and for auto-approval
// commits) the balance, and persists the request. Policy violations and
// insufficient balance are returned as typed business rejections; nothing
// is persisted on any failure path.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*LeaveRequest, error) {
	if in.EndDate.Before(in.StartDate) {
		return nil, ErrInvalidPeriod
	}

	lt, err := o.Types.Get(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}

	days, err := o.Calendar.WorkingDays(in.StartDate, in.EndDate, in.StartHalf, in.EndHalf)
	if err != nil {
		return nil, err
	}

	now := o.now()
	req := &LeaveRequest{
		ID:          RequestID(uuid.NewString()),
		EmployeeID:  in.EmployeeID,
		LeaveTypeID: in.LeaveTypeID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		StartHalf:   in.StartHalf,
		EndHalf:     in.EndHalf,
		WorkingDays: days,
		Reason:      in.Reason,
		Status:      StatusNone,
		AppliedAt:   now,
		Version:     1,
		UpdatedAt:   now,
	}

	policy := o.Policies.Snapshot().Resolve(lt.ID)

	existing, err := o.Requests.ListActiveByEmployee(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}

	if err := Validate(ValidationInput{
		Request:     req,
		Policy:      policy,
		LeaveType:   *lt,
		Existing:    existing,
		SubmittedOn: DateOf(now),
		Calendar:    o.Calendar,
	}); err != nil {
		return nil, err
	}

	// Balance check last: the reservation attempt is the check, so no
	// earlier failure can strand a reservation.
	key := BalanceKey{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, PeriodYear: req.PeriodYear()}
	if err := o.Ledger.Reserve(ctx, key, days); err != nil {
		return nil, err
	}

	auto := AutoApprovable(*lt, policy, days)
	if auto {
		if err := o.Ledger.Commit(ctx, key, days); err != nil {
			return nil, errors.Join(err, o.Ledger.Release(ctx, key, days))
		}
		req.Status = StatusApproved
		req.CurrentApprover = ""
	} else {
		next, err := NextStatus(StatusNone, ActionSubmit, RoleEmployee, *lt)
		if err != nil {
			return nil, errors.Join(err, o.Ledger.Release(ctx, key, days))
		}
		req.Status = next
		req.CurrentApprover = RoleManager
	}

	if err := o.Requests.Create(ctx, req); err != nil {
		var comp error
		if auto {
			comp = o.Ledger.Reverse(ctx, key, days)
		}
		return nil, errors.Join(err, comp, o.Ledger.Release(ctx, key, days))
	}

	if auto {
		o.Events.Publish(newEvent(EventLeaveApproved, req, ActorID(RoleSystem), RoleSystem, "auto-approved", now))
	} else {
		o.Events.Publish(newEvent(EventLeaveSubmitted, req, ActorID(in.EmployeeID), RoleEmployee, in.Reason, now))
	}
	return req, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide applies a manager or HR verdict. approve=false rejects. The
// transition and its ledger effect either both apply or neither does.
func (o *Orchestrator) Decide(ctx context.Context, id RequestID, actor ActorID, role Role, approve bool, notes string) (*LeaveRequest, error) {
	if role != RoleManager && role != RoleHR {
		return nil, &InvalidTransitionError{Action: ActionApprove, Role: role}
	}

	req, err := o.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	lt, err := o.Types.Get(ctx, req.LeaveTypeID)
	if err != nil {
		return nil, err
	}

	action := ActionReject
	if approve {
		action = ActionApprove
	}

	work := req.Clone()
	expected := work.Version
	app, err := o.Machine.Apply(ctx, work, *lt, action, actor, role, notes)
	if err != nil {
		return nil, err
	}

	if err := o.Requests.Update(ctx, work, expected); err != nil {
		return nil, errors.Join(err, o.compensate(ctx, work, app))
	}

	evType := EventLeaveRejected
	if approve {
		evType = EventLeaveApproved
	}
	o.Events.Publish(newEvent(evType, work, actor, role, notes, o.now()))
	return work, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel lets the requesting employee withdraw a pending request,
// releasing the full reservation.
func (o *Orchestrator) Cancel(ctx context.Context, id RequestID, employeeID EmployeeID) (*LeaveRequest, error) {
	req, err := o.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.EmployeeID != employeeID {
		return nil, &InvalidTransitionError{Status: req.Status, Action: ActionCancel, Role: RoleEmployee}
	}
	lt, err := o.Types.Get(ctx, req.LeaveTypeID)
	if err != nil {
		return nil, err
	}

	work := req.Clone()
	expected := work.Version
	app, err := o.Machine.Apply(ctx, work, *lt, ActionCancel, ActorID(employeeID), RoleEmployee, "")
	if err != nil {
		return nil, err
	}

	if err := o.Requests.Update(ctx, work, expected); err != nil {
		return nil, errors.Join(err, o.compensate(ctx, work, app))
	}

	o.Events.Publish(newEvent(EventLeaveCancelled, work, ActorID(employeeID), RoleEmployee, "", o.now()))
	return work, nil
}

// compensate undoes a transition's ledger effect after the request write
// failed, restoring the pre-transition ledger state.
func (o *Orchestrator) compensate(ctx context.Context, req *LeaveRequest, app applied) error {
	key := BalanceKey{EmployeeID: req.EmployeeID, LeaveTypeID: req.LeaveTypeID, PeriodYear: req.PeriodYear()}
	switch {
	case app.Committed:
		return o.Ledger.Reverse(ctx, key, req.WorkingDays)
	case app.Released:
		return o.Ledger.Reserve(ctx, key, req.WorkingDays)
	}
	return nil
}

// =============================================================================
// QUERIES AND ADMINISTRATION
// =============================================================================

// EmployeeRequests lists an employee's requests, newest first.
func (o *Orchestrator) EmployeeRequests(ctx context.Context, employeeID EmployeeID) ([]*LeaveRequest, error) {
	return o.Requests.ListByEmployee(ctx, employeeID)
}

// PendingRequests lists requests currently waiting on the given role.
func (o *Orchestrator) PendingRequests(ctx context.Context, role Role) ([]*LeaveRequest, error) {
	if role != RoleManager && role != RoleHR {
		return nil, &InvalidTransitionError{Action: ActionApprove, Role: role}
	}
	return o.Requests.ListPendingByApprover(ctx, role)
}

// Balances returns the employee's ledger rows for balance views.
func (o *Orchestrator) Balances(ctx context.Context, employeeID EmployeeID) ([]*BalanceRecord, error) {
	return o.Ledger.Store.ListByEmployee(ctx, employeeID)
}

// RolloverEmployee creates the new period's balance record for every
// leave type, applying carry-over caps. Idempotent per (employee, type,
// year).
func (o *Orchestrator) RolloverEmployee(ctx context.Context, employeeID EmployeeID, newYear int) ([]*BalanceRecord, error) {
	types, err := o.Types.List(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := o.Policies.Snapshot()
	out := make([]*BalanceRecord, 0, len(types))
	for _, lt := range types {
		rec, err := o.Ledger.Rollover(ctx, employeeID, *lt, newYear, snapshot.Resolve(lt.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
