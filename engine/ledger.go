/*
ledger.go - The balance ledger: reserve, commit, release, rollover

PURPOSE:
  The ledger is the single authority over day balances. A submission
  reserves days, a final approval moves them from reserved to used, and
  a rejection or cancellation releases them. The invariant

    used + reserved <= allocated + carriedOver

  is checked on every mutation and can never be violated by concurrent
  callers: each write is a compare-and-swap on the record's version.

CONCURRENCY:
  Reserve/commit/release on the SAME (employee, leave type, year) key
  serialize through the version counter. A lost race re-reads the record
  and retries a bounded number of times, so transient contention does not
  surface to callers; exhausted retries return ErrConcurrentModification
  and the caller retries the whole operation. Different keys proceed
  independently.

CORRECTIONS:
  Reverse undoes a commit (used -= days). It exists for workflow
  compensation: when the request write fails after its ledger effect
  already committed, the orchestrator reverses the deduction so no
  partial state survives.

SEE ALSO:
  - types.go: BalanceRecord and its invariant
  - workflow.go: pairs each ledger call with a status change
*/
package engine

import (
	"context"
	"errors"
	"time"
)

// casAttempts bounds internal retries on version conflicts before the
// error is surfaced to the caller.
const casAttempts = 3

// BalanceLedger implements the atomic balance operations over a
// BalanceStore.
type BalanceLedger struct {
	Store BalanceStore
	Clock func() time.Time
}

func NewBalanceLedger(store BalanceStore) *BalanceLedger {
	return &BalanceLedger{Store: store, Clock: time.Now}
}

func (l *BalanceLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

// checkDays rejects non-positive or misaligned quantities at the boundary.
func checkDays(days Days) error {
	if !days.IsPositive() || !days.IsHalfDayAligned() {
		return ErrInvalidAmount
	}
	return nil
}

// mutate runs a read-modify-write cycle under optimistic concurrency.
func (l *BalanceLedger) mutate(ctx context.Context, key BalanceKey, fn func(*BalanceRecord) error) (*BalanceRecord, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := l.Store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		expected := rec.Version
		if err := fn(rec); err != nil {
			return nil, err
		}
		if err := rec.CheckInvariant(); err != nil {
			return nil, err
		}
		rec.UpdatedAt = l.now()
		err = l.Store.Update(ctx, rec, expected)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Reserve holds days against an in-flight request. Fails with
// InsufficientBalanceError when used + reserved + days would exceed
// allocated + carriedOver; this is a normal rejection outcome.
func (l *BalanceLedger) Reserve(ctx context.Context, key BalanceKey, days Days) error {
	if err := checkDays(days); err != nil {
		return err
	}
	_, err := l.mutate(ctx, key, func(rec *BalanceRecord) error {
		if rec.Available().LessThan(days) {
			return &InsufficientBalanceError{
				EmployeeID:  key.EmployeeID,
				LeaveTypeID: key.LeaveTypeID,
				PeriodYear:  key.PeriodYear,
				Available:   rec.Available(),
				Requested:   days,
			}
		}
		rec.Reserved = rec.Reserved.Add(days)
		return nil
	})
	return err
}

// Commit moves days from reserved to used. Fails with ErrReserveNotFound
// when no matching reservation exists, which also makes a double commit
// for the same reservation fail on the second call.
func (l *BalanceLedger) Commit(ctx context.Context, key BalanceKey, days Days) error {
	if err := checkDays(days); err != nil {
		return err
	}
	_, err := l.mutate(ctx, key, func(rec *BalanceRecord) error {
		if rec.Reserved.LessThan(days) {
			return ErrReserveNotFound
		}
		rec.Reserved = rec.Reserved.Sub(days)
		rec.Used = rec.Used.Add(days)
		return nil
	})
	return err
}

// Release returns reserved days without touching used. Used for rejection
// and cancellation.
func (l *BalanceLedger) Release(ctx context.Context, key BalanceKey, days Days) error {
	if err := checkDays(days); err != nil {
		return err
	}
	_, err := l.mutate(ctx, key, func(rec *BalanceRecord) error {
		if rec.Reserved.LessThan(days) {
			return ErrReserveNotFound
		}
		rec.Reserved = rec.Reserved.Sub(days)
		return nil
	})
	return err
}

// Reverse is the exact inverse of Commit: days move from used back to
// reserved. Compensation only, for when the request write fails after its
// commit already applied; request handlers never call this directly.
func (l *BalanceLedger) Reverse(ctx context.Context, key BalanceKey, days Days) error {
	if err := checkDays(days); err != nil {
		return err
	}
	_, err := l.mutate(ctx, key, func(rec *BalanceRecord) error {
		if rec.Used.LessThan(days) {
			return ErrReserveNotFound
		}
		rec.Used = rec.Used.Sub(days)
		rec.Reserved = rec.Reserved.Add(days)
		return nil
	})
	return err
}

// Rollover creates the balance record for a new period, computing
// carry-over from the previous period:
//
//	carriedOver = min(previousAllocated - previousUsed, carryOverLimit)
//
// when the leave type allows carry-over, zero otherwise. Idempotent:
// if the record for newYear already exists it is returned unchanged.
func (l *BalanceLedger) Rollover(ctx context.Context, employeeID EmployeeID, lt LeaveType, newYear int, policy EffectivePolicy) (*BalanceRecord, error) {
	key := BalanceKey{EmployeeID: employeeID, LeaveTypeID: lt.ID, PeriodYear: newYear}
	if existing, err := l.Store.Get(ctx, key); err == nil {
		return existing, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	carried := ZeroDays()
	if lt.AllowsCarryOver && policy.CarryOverEnabled {
		prev, err := l.Store.Get(ctx, BalanceKey{EmployeeID: employeeID, LeaveTypeID: lt.ID, PeriodYear: newYear - 1})
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		if err == nil {
			remaining := prev.Allocated.Sub(prev.Used)
			limit := lt.CarryOverLimit
			if limit.IsZero() {
				limit = policy.CarryOverLimit
			}
			carried = remaining.Min(limit)
			if carried.IsNegative() {
				carried = ZeroDays()
			}
		}
	}

	rec := &BalanceRecord{
		EmployeeID:  employeeID,
		LeaveTypeID: lt.ID,
		PeriodYear:  newYear,
		Allocated:   lt.MaxDaysPerYear,
		CarriedOver: carried,
		Used:        ZeroDays(),
		Reserved:    ZeroDays(),
		Version:     1,
		UpdatedAt:   l.now(),
	}
	if err := l.Store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent rollover; both produce the
			// same record, so return the winner's.
			return l.Store.Get(ctx, key)
		}
		return nil, err
	}
	return rec, nil
}

// Allocate creates a balance record directly, used by administrative
// seeding rather than period rollover.
func (l *BalanceLedger) Allocate(ctx context.Context, key BalanceKey, allocated, carried Days) (*BalanceRecord, error) {
	if err := checkDays(allocated); err != nil {
		return nil, err
	}
	if carried.IsNegative() || !carried.IsHalfDayAligned() {
		return nil, ErrInvalidAmount
	}
	rec := &BalanceRecord{
		EmployeeID:  key.EmployeeID,
		LeaveTypeID: key.LeaveTypeID,
		PeriodYear:  key.PeriodYear,
		Allocated:   allocated,
		CarriedOver: carried,
		Used:        ZeroDays(),
		Reserved:    ZeroDays(),
		Version:     1,
		UpdatedAt:   l.now(),
	}
	if err := l.Store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
