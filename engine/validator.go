/*
validator.go - Pure policy validation for a proposed request

PURPOSE:
  Checks a request draft against the policy snapshot, the leave type, and
  the employee's existing requests. Pure decision logic: no I/O, no
  mutation. Returns nil on acceptance or a PolicyViolationError carrying
  the reason code and the offending constraint value.

ORDERING:
  Checks short-circuit on the first failure, in a fixed order, so error
  reporting is deterministic:
    1. advance notice
    2. maximum consecutive working days
    3. minimum duration
    4. overlap with existing pending/approved requests
  Balance sufficiency is deliberately NOT checked here: it is the
  reservation attempt itself (ledger.Reserve), ordered last by the
  orchestrator so a later check can never strand a reservation.

EDGE CASES:
  A single-working-day request (start == end) is valid whenever the
  minimum duration allows it. Types with requiresApproval=false still
  pass through here - overlap and duration rules apply regardless of
  how approval is staged.
*/
package engine

import "strconv"

// ValidationInput bundles everything the validator needs. Existing must
// hold the employee's PENDING_* and APPROVED requests.
type ValidationInput struct {
	Request     *LeaveRequest
	Policy      EffectivePolicy
	LeaveType   LeaveType
	Existing    []*LeaveRequest
	SubmittedOn Date
	Calendar    *WorkingCalendar
}

// Validate runs the ordered policy checks. nil means accepted.
func Validate(in ValidationInput) error {
	if err := checkAdvanceNotice(in); err != nil {
		return err
	}
	if err := checkMaxConsecutive(in); err != nil {
		return err
	}
	if err := checkMinDuration(in); err != nil {
		return err
	}
	return checkOverlap(in)
}

func checkAdvanceNotice(in ValidationInput) error {
	if in.Policy.AllowBackdated || in.Policy.AdvanceNoticeDays <= 0 {
		return nil
	}
	given := in.Calendar.NoticeDays(in.SubmittedOn, in.Request.StartDate)
	if given < in.Policy.AdvanceNoticeDays {
		return &PolicyViolationError{
			Code:  ReasonAdvanceNotice,
			Limit: strconv.Itoa(in.Policy.AdvanceNoticeDays),
			Given: strconv.Itoa(given),
		}
	}
	return nil
}

func checkMaxConsecutive(in ValidationInput) error {
	limit := in.Policy.MaxConsecutiveDays
	if limit.IsZero() {
		return nil
	}
	if in.Request.WorkingDays.GreaterThan(limit) {
		return &PolicyViolationError{
			Code:  ReasonMaxConsecutive,
			Limit: limit.String(),
			Given: in.Request.WorkingDays.String(),
		}
	}
	return nil
}

func checkMinDuration(in ValidationInput) error {
	min := in.Policy.MinLeaveDuration
	if unit := in.LeaveType.MinDurationUnit; unit.GreaterThan(min) {
		min = unit
	}
	if in.Request.WorkingDays.LessThan(min) {
		return &PolicyViolationError{
			Code:  ReasonMinDuration,
			Limit: min.String(),
			Given: in.Request.WorkingDays.String(),
		}
	}
	return nil
}

func checkOverlap(in ValidationInput) error {
	if in.Policy.AllowOverlapping {
		return nil
	}
	for _, other := range in.Existing {
		if other.ID == in.Request.ID {
			continue
		}
		if other.Status.IsTerminal() && other.Status != StatusApproved {
			continue
		}
		if other.Overlaps(in.Request.StartDate, in.Request.EndDate) {
			return &PolicyViolationError{
				Code:  ReasonOverlap,
				Limit: string(other.ID),
				Given: in.Request.StartDate.String() + ".." + in.Request.EndDate.String(),
			}
		}
	}
	return nil
}

// AutoApprovable reports whether a validated request skips the approval
// stages entirely: either the type never requires approval, or the
// auto-approval threshold covers it.
func AutoApprovable(lt LeaveType, policy EffectivePolicy, workingDays Days) bool {
	if !lt.RequiresApproval {
		return true
	}
	return policy.AutoApproveEnabled && !workingDays.GreaterThan(policy.AutoApproveMaxDays)
}
