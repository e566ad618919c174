package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func validationInput(mutate ...func(*engine.ValidationInput)) engine.ValidationInput {
	cal := engine.NewWorkingCalendar(nil)
	// Mon 2026-06-01 .. Fri 2026-06-05, submitted well in advance.
	start := engine.NewDate(2026, time.June, 1)
	end := engine.NewDate(2026, time.June, 5)
	days, _ := cal.WorkingDays(start, end, false, false)

	in := engine.ValidationInput{
		Request: &engine.LeaveRequest{
			ID:          "req-new",
			EmployeeID:  "emp-1",
			LeaveTypeID: "annual",
			StartDate:   start,
			EndDate:     end,
			WorkingDays: days,
		},
		Policy:      engine.DefaultPolicyConfig().Resolve("annual"),
		LeaveType:   engine.LeaveType{ID: "annual", RequiresApproval: true, MinDurationUnit: engine.NewDays(0.5)},
		SubmittedOn: engine.NewDate(2026, time.May, 1),
		Calendar:    cal,
	}
	for _, m := range mutate {
		m(&in)
	}
	return in
}

func policyCode(t *testing.T, err error) engine.ReasonCode {
	t.Helper()
	var pv *engine.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	return pv.Code
}

// =============================================================================
// INDIVIDUAL CHECKS
// =============================================================================

func TestValidate_HappyPath(t *testing.T) {
	assert.NoError(t, engine.Validate(validationInput()))
}

func TestValidate_AdvanceNotice_TooLate(t *testing.T) {
	// GIVEN: Policy requires 3 working days of notice
	// WHEN: Submitting on Friday for a leave starting Monday
	// THEN: Rejected with advance_notice carrying limit=3 given=0

	in := validationInput(func(in *engine.ValidationInput) {
		in.Policy.AdvanceNoticeDays = 3
		in.SubmittedOn = engine.NewDate(2026, time.May, 29) // Friday
	})

	err := engine.Validate(in)
	require.Error(t, err)
	assert.Equal(t, engine.ReasonAdvanceNotice, policyCode(t, err))
	var pv *engine.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "3", pv.Limit)
	assert.Equal(t, "0", pv.Given)
}

func TestValidate_AdvanceNotice_BackdatedAllowed(t *testing.T) {
	// GIVEN: Policy allows backdated requests
	// WHEN: Submitting after the leave already started
	// THEN: Advance notice is not enforced

	in := validationInput(func(in *engine.ValidationInput) {
		in.Policy.AdvanceNoticeDays = 3
		in.Policy.AllowBackdated = true
		in.SubmittedOn = engine.NewDate(2026, time.June, 3)
	})
	assert.NoError(t, engine.Validate(in))
}

func TestValidate_MaxConsecutive_Exceeded(t *testing.T) {
	// GIVEN: A 5-working-day request against a 3-day consecutive cap
	// WHEN: Validating
	// THEN: Rejected with max_consecutive carrying the cap and the actual span

	in := validationInput(func(in *engine.ValidationInput) {
		in.Policy.MaxConsecutiveDays = engine.DaysFromInt(3)
	})

	err := engine.Validate(in)
	require.Error(t, err)
	assert.Equal(t, engine.ReasonMaxConsecutive, policyCode(t, err))
	var pv *engine.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "3", pv.Limit)
	assert.Equal(t, "5", pv.Given)
}

func TestValidate_MinDuration_TypeUnitWins(t *testing.T) {
	// GIVEN: A half-day request against a type whose smallest unit is 1 day
	// WHEN: Validating
	// THEN: Rejected with min_duration; the tighter type unit applies

	in := validationInput(func(in *engine.ValidationInput) {
		in.Request.EndDate = in.Request.StartDate
		in.Request.WorkingDays = engine.NewDays(0.5)
		in.LeaveType.MinDurationUnit = engine.DaysFromInt(1)
	})

	err := engine.Validate(in)
	require.Error(t, err)
	assert.Equal(t, engine.ReasonMinDuration, policyCode(t, err))
}

func TestValidate_Overlap_WithPendingRequest(t *testing.T) {
	// GIVEN: An existing pending request covering June 3
	// WHEN: Submitting a request for June 1-5
	// THEN: Rejected with overlap naming the conflicting request

	in := validationInput(func(in *engine.ValidationInput) {
		in.Existing = []*engine.LeaveRequest{{
			ID:        "req-old",
			StartDate: engine.NewDate(2026, time.June, 3),
			EndDate:   engine.NewDate(2026, time.June, 10),
			Status:    engine.StatusPendingManager,
		}}
	})

	err := engine.Validate(in)
	require.Error(t, err)
	assert.Equal(t, engine.ReasonOverlap, policyCode(t, err))
	var pv *engine.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "req-old", pv.Limit)
}

func TestValidate_Overlap_TerminalRequestsIgnored(t *testing.T) {
	// GIVEN: A rejected and a cancelled request on the same dates
	// WHEN: Submitting an overlapping request
	// THEN: Accepted; only pending and approved requests block

	in := validationInput(func(in *engine.ValidationInput) {
		in.Existing = []*engine.LeaveRequest{
			{ID: "r1", StartDate: engine.NewDate(2026, time.June, 1), EndDate: engine.NewDate(2026, time.June, 5), Status: engine.StatusRejected},
			{ID: "r2", StartDate: engine.NewDate(2026, time.June, 1), EndDate: engine.NewDate(2026, time.June, 5), Status: engine.StatusCancelled},
		}
	})
	assert.NoError(t, engine.Validate(in))
}

func TestValidate_Overlap_ApprovedRequestBlocks(t *testing.T) {
	in := validationInput(func(in *engine.ValidationInput) {
		in.Existing = []*engine.LeaveRequest{{
			ID:        "r1",
			StartDate: engine.NewDate(2026, time.June, 5),
			EndDate:   engine.NewDate(2026, time.June, 5),
			Status:    engine.StatusApproved,
		}}
	})
	err := engine.Validate(in)
	require.Error(t, err)
	assert.Equal(t, engine.ReasonOverlap, policyCode(t, err))
}

func TestValidate_Overlap_PolicyBypass(t *testing.T) {
	in := validationInput(func(in *engine.ValidationInput) {
		in.Policy.AllowOverlapping = true
		in.Existing = []*engine.LeaveRequest{{
			ID:        "r1",
			StartDate: engine.NewDate(2026, time.June, 1),
			EndDate:   engine.NewDate(2026, time.June, 5),
			Status:    engine.StatusApproved,
		}}
	})
	assert.NoError(t, engine.Validate(in))
}

func TestValidate_CheckOrdering_FirstFailureWins(t *testing.T) {
	// GIVEN: A request violating notice, consecutive cap, AND overlap
	// WHEN: Validating
	// THEN: The advance-notice violation is reported (fixed check order)

	in := validationInput(func(in *engine.ValidationInput) {
		in.Policy.AdvanceNoticeDays = 10
		in.SubmittedOn = engine.NewDate(2026, time.May, 31)
		in.Policy.MaxConsecutiveDays = engine.DaysFromInt(1)
		in.Existing = []*engine.LeaveRequest{{
			ID:        "r1",
			StartDate: engine.NewDate(2026, time.June, 1),
			EndDate:   engine.NewDate(2026, time.June, 5),
			Status:    engine.StatusApproved,
		}}
	})

	err := engine.Validate(in)
	require.Error(t, err)
	assert.Equal(t, engine.ReasonAdvanceNotice, policyCode(t, err))
}

// =============================================================================
// PER-TYPE OVERRIDES
// =============================================================================

func TestResolve_TighterConsecutiveCapWins(t *testing.T) {
	// GIVEN: Global cap 30, override cap 10 for one type
	// WHEN: Resolving both the overridden and another type
	// THEN: The overridden type gets 10; the other keeps 30

	tight := engine.DaysFromInt(10)
	cfg := engine.DefaultPolicyConfig()
	cfg.TypeOverrides = map[engine.LeaveTypeID]engine.TypeOverride{
		"annual": {MaxConsecutiveDays: &tight},
	}

	assert.True(t, cfg.Resolve("annual").MaxConsecutiveDays.Equal(engine.DaysFromInt(10)))
	assert.True(t, cfg.Resolve("sick").MaxConsecutiveDays.Equal(engine.DaysFromInt(30)))

	// A looser override never wins over a tighter global cap.
	loose := engine.DaysFromInt(60)
	cfg.TypeOverrides["annual"] = engine.TypeOverride{MaxConsecutiveDays: &loose}
	assert.True(t, cfg.Resolve("annual").MaxConsecutiveDays.Equal(engine.DaysFromInt(30)))
}

// =============================================================================
// AUTO-APPROVAL ELIGIBILITY
// =============================================================================

func TestAutoApprovable(t *testing.T) {
	noApproval := engine.LeaveType{ID: "comp", RequiresApproval: false}
	normal := engine.LeaveType{ID: "annual", RequiresApproval: true}

	off := engine.DefaultPolicyConfig().Resolve("annual")
	assert.True(t, engine.AutoApprovable(noApproval, off, engine.DaysFromInt(10)),
		"types without approval always auto-approve")
	assert.False(t, engine.AutoApprovable(normal, off, engine.NewDays(0.5)),
		"threshold disabled by default")

	on := off
	on.AutoApproveEnabled = true
	on.AutoApproveMaxDays = engine.DaysFromInt(2)
	assert.True(t, engine.AutoApprovable(normal, on, engine.DaysFromInt(2)))
	assert.True(t, engine.AutoApprovable(normal, on, engine.NewDays(0.5)))
	assert.False(t, engine.AutoApprovable(normal, on, engine.NewDays(2.5)))
}
