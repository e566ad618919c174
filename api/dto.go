/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  Dates are YYYY-MM-DD strings, timestamps are RFC3339, and day
  quantities are decimal strings ("2.5") so clients never see float
  rounding.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitRequestBody is the request to submit a new leave request. The
// employee identity comes from the identity layer, not the body.
type SubmitRequestBody struct {
	LeaveTypeID string `json:"leave_type_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	StartHalf   bool   `json:"start_half,omitempty"`
	EndHalf     bool   `json:"end_half,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// DecisionBody is a manager or HR verdict on a pending request.
type DecisionBody struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes,omitempty"`
}

// RolloverBody triggers period rollover for one employee.
type RolloverBody struct {
	EmployeeID string `json:"employee_id"`
	Year       int    `json:"year"`
}

// AllocationBody seeds a balance record administratively.
type AllocationBody struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	PeriodYear  int    `json:"period_year"`
	Allocated   string `json:"allocated"`
	CarriedOver string `json:"carried_over,omitempty"`
}

// PolicyBody is the administrative policy update payload. Omitted fields
// take their zero value; clients send the full configuration.
type PolicyBody struct {
	AdvanceNoticeDays     int                         `json:"advance_notice_days"`
	AllowBackdated        bool                        `json:"allow_backdated"`
	MaxConsecutiveDays    string                      `json:"max_consecutive_days"`
	MinLeaveDuration      string                      `json:"min_leave_duration"`
	AllowOverlapping      bool                        `json:"allow_overlapping"`
	AutoApproveEnabled    bool                        `json:"auto_approve_enabled"`
	AutoApproveMaxDays    string                      `json:"auto_approve_max_days"`
	CarryOverEnabled      bool                        `json:"carry_over_enabled"`
	DefaultCarryOverLimit string                      `json:"default_carry_over_limit"`
	TypeOverrides         map[string]TypeOverrideBody `json:"type_overrides,omitempty"`
}

// TypeOverrideBody narrows global policy values for one leave type.
type TypeOverrideBody struct {
	MaxConsecutiveDays *string `json:"max_consecutive_days,omitempty"`
	MinLeaveDuration   *string `json:"min_leave_duration,omitempty"`
	AdvanceNoticeDays  *int    `json:"advance_notice_days,omitempty"`
}

// LeaveTypeBody creates or updates a leave type.
type LeaveTypeBody struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MaxDaysPerYear     string `json:"max_days_per_year"`
	RequiresApproval   bool   `json:"requires_approval"`
	RequiresHRApproval bool   `json:"requires_hr_approval"`
	AllowsCarryOver    bool   `json:"allows_carry_over"`
	CarryOverLimit     string `json:"carry_over_limit,omitempty"`
	MinDurationUnit    string `json:"min_duration_unit,omitempty"`
}

// HolidayBody creates a company holiday.
type HolidayBody struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID              string       `json:"id"`
	EmployeeID      string       `json:"employee_id"`
	LeaveTypeID     string       `json:"leave_type_id"`
	StartDate       string       `json:"start_date"`
	EndDate         string       `json:"end_date"`
	StartHalf       bool         `json:"start_half"`
	EndHalf         bool         `json:"end_half"`
	WorkingDays     string       `json:"working_days"`
	Reason          string       `json:"reason,omitempty"`
	Status          string       `json:"status"`
	CurrentApprover string       `json:"current_approver,omitempty"`
	AppliedAt       string       `json:"applied_at"`
	ManagerDecision *DecisionDTO `json:"manager_decision,omitempty"`
	HRDecision      *DecisionDTO `json:"hr_decision,omitempty"`
	Version         int64        `json:"version"`
}

// DecisionDTO represents one approver's verdict.
type DecisionDTO struct {
	Approved bool   `json:"approved"`
	By       string `json:"by"`
	At       string `json:"at"`
	Notes    string `json:"notes,omitempty"`
}

// BalanceDTO represents one ledger row.
type BalanceDTO struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	PeriodYear  int    `json:"period_year"`
	Allocated   string `json:"allocated"`
	Used        string `json:"used"`
	CarriedOver string `json:"carried_over"`
	Reserved    string `json:"reserved"`
	Available   string `json:"available"`
}

// LeaveTypeDTO represents a leave type configuration.
type LeaveTypeDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MaxDaysPerYear     string `json:"max_days_per_year"`
	RequiresApproval   bool   `json:"requires_approval"`
	RequiresHRApproval bool   `json:"requires_hr_approval"`
	AllowsCarryOver    bool   `json:"allows_carry_over"`
	CarryOverLimit     string `json:"carry_over_limit"`
	MinDurationUnit    string `json:"min_duration_unit"`
}

// ErrorDTO is the uniform error envelope.
type ErrorDTO struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toRequestDTO(req *engine.LeaveRequest) RequestDTO {
	return RequestDTO{
		ID:              string(req.ID),
		EmployeeID:      string(req.EmployeeID),
		LeaveTypeID:     string(req.LeaveTypeID),
		StartDate:       req.StartDate.String(),
		EndDate:         req.EndDate.String(),
		StartHalf:       req.StartHalf,
		EndHalf:         req.EndHalf,
		WorkingDays:     req.WorkingDays.String(),
		Reason:          req.Reason,
		Status:          string(req.Status),
		CurrentApprover: string(req.CurrentApprover),
		AppliedAt:       req.AppliedAt.Format(time.RFC3339),
		ManagerDecision: toDecisionDTO(req.ManagerDecision),
		HRDecision:      toDecisionDTO(req.HRDecision),
		Version:         req.Version,
	}
}

func toDecisionDTO(d *engine.Decision) *DecisionDTO {
	if d == nil {
		return nil
	}
	return &DecisionDTO{
		Approved: d.Approved,
		By:       string(d.By),
		At:       d.At.Format(time.RFC3339),
		Notes:    d.Notes,
	}
}

func toBalanceDTO(rec *engine.BalanceRecord) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  string(rec.EmployeeID),
		LeaveTypeID: string(rec.LeaveTypeID),
		PeriodYear:  rec.PeriodYear,
		Allocated:   rec.Allocated.String(),
		Used:        rec.Used.String(),
		CarriedOver: rec.CarriedOver.String(),
		Reserved:    rec.Reserved.String(),
		Available:   rec.Available().String(),
	}
}

func toLeaveTypeDTO(lt *engine.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:                 string(lt.ID),
		Name:               lt.Name,
		MaxDaysPerYear:     lt.MaxDaysPerYear.String(),
		RequiresApproval:   lt.RequiresApproval,
		RequiresHRApproval: lt.RequiresHRApproval,
		AllowsCarryOver:    lt.AllowsCarryOver,
		CarryOverLimit:     lt.CarryOverLimit.String(),
		MinDurationUnit:    lt.MinDurationUnit.String(),
	}
}
