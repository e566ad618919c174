/*
handlers.go - HTTP API handlers for the leave lifecycle engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the orchestrator. The engine never sees
  HTTP types; handlers never touch the ledger or state machine directly.

ENDPOINTS:
  Requests:
    POST   /api/requests                 Submit a leave request
    GET    /api/requests/{id}            Get one request
    POST   /api/requests/{id}/decision   Manager/HR approve or reject
    POST   /api/requests/{id}/cancel     Employee cancels a pending request
    GET    /api/requests/pending         Requests waiting on the caller's role

  Employees:
    GET    /api/employees/{id}/requests  Request history, newest first
    GET    /api/employees/{id}/balance   Ledger rows with availability

  Types and holidays:
    GET    /api/types                    List leave types
    GET    /api/holidays                 List company holidays

  Admin:
    GET    /api/admin/policy             Current policy snapshot
    PUT    /api/admin/policy             Publish a new policy snapshot
    POST   /api/admin/rollover           Period rollover for one employee
    POST   /api/admin/allocations        Seed a balance record
    POST   /api/admin/types              Create/update a leave type
    POST   /api/admin/holidays           Add a company holiday

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input (bad JSON, unparseable dates or amounts)
  - 404: Request, balance, or leave type not found
  - 409: Conflict (illegal transition, duplicate, lost optimistic race;
         the last carries code "conflict_retry" so clients retry)
  - 422: Business rejection (policy violation, insufficient balance)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Actor resolution middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/leave-engine/engine"
)

// HolidayStore persists company holidays. Both SQL stores implement it.
type HolidayStore interface {
	SaveHoliday(ctx context.Context, h engine.Holiday) error
	ListHolidays(ctx context.Context) ([]engine.Holiday, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *engine.Orchestrator
	Policies *engine.PolicyStore
	Holidays HolidayStore

	// Calendar receives new holidays so day counting picks them up
	// without a restart. Nil when holidays are fixed at boot.
	Calendar *engine.MemoryHolidayCalendar
}

// NewHandler creates a new handler around an orchestrator.
func NewHandler(eng *engine.Orchestrator, policies *engine.PolicyStore, holidays HolidayStore, calendar *engine.MemoryHolidayCalendar) *Handler {
	return &Handler{Engine: eng, Policies: policies, Holidays: holidays, Calendar: calendar}
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest submits a new leave request for the calling employee.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok || ident.EmployeeID == "" {
		writeError(w, http.StatusUnauthorized, "Missing identity", nil)
		return
	}

	var body SubmitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := engine.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD", err)
		return
	}
	end, err := engine.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date, expected YYYY-MM-DD", err)
		return
	}

	req, err := h.Engine.Submit(r.Context(), engine.SubmitInput{
		EmployeeID:  ident.EmployeeID,
		LeaveTypeID: engine.LeaveTypeID(body.LeaveTypeID),
		StartDate:   start,
		EndDate:     end,
		StartHalf:   body.StartHalf,
		EndHalf:     body.EndHalf,
		Reason:      body.Reason,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(req))
}

// GetRequest returns one request by ID.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := engine.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Requests.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// DecideRequest records a manager or HR verdict on a pending request.
func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing identity", nil)
		return
	}

	var body DecisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := engine.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Decide(r.Context(), id, ident.ActorID, ident.Role, body.Approve, body.Notes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// CancelRequest withdraws the calling employee's own pending request.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok || ident.EmployeeID == "" {
		writeError(w, http.StatusUnauthorized, "Missing identity", nil)
		return
	}

	id := engine.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Cancel(r.Context(), id, ident.EmployeeID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListPendingRequests returns requests waiting on the caller's role.
// A role query parameter overrides the identity role for HR tooling.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())
	role := ident.Role
	if q := r.URL.Query().Get("role"); q != "" {
		role = engine.Role(q)
	}

	reqs, err := h.Engine.PendingRequests(r.Context(), role)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]RequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployeeRequests returns an employee's request history.
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	employeeID := engine.EmployeeID(chi.URLParam(r, "id"))
	reqs, err := h.Engine.EmployeeRequests(r.Context(), employeeID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]RequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns an employee's ledger rows with computed availability.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	employeeID := engine.EmployeeID(chi.URLParam(r, "id"))
	recs, err := h.Engine.Balances(r.Context(), employeeID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]BalanceDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toBalanceDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TYPE AND HOLIDAY HANDLERS
// =============================================================================

// ListLeaveTypes returns all configured leave types.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Engine.Types.List(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]LeaveTypeDTO, len(types))
	for i, lt := range types {
		dtos[i] = toLeaveTypeDTO(lt)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveLeaveType creates or updates a leave type.
func (h *Handler) SaveLeaveType(w http.ResponseWriter, r *http.Request) {
	var body LeaveTypeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ID == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	maxDays, err := engine.ParseDays(body.MaxDaysPerYear)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid max_days_per_year", err)
		return
	}
	carryLimit, err := parseDaysOr(body.CarryOverLimit, engine.ZeroDays())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid carry_over_limit", err)
		return
	}
	minUnit, err := parseDaysOr(body.MinDurationUnit, engine.NewDays(0.5))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid min_duration_unit", err)
		return
	}

	lt := &engine.LeaveType{
		ID:                 engine.LeaveTypeID(body.ID),
		Name:               body.Name,
		MaxDaysPerYear:     maxDays,
		RequiresApproval:   body.RequiresApproval,
		RequiresHRApproval: body.RequiresHRApproval,
		AllowsCarryOver:    body.AllowsCarryOver,
		CarryOverLimit:     carryLimit,
		MinDurationUnit:    minUnit,
		CreatedAt:          h.Engine.Clock(),
	}
	if err := h.Engine.Types.Save(r.Context(), lt); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

// ListHolidays returns all company holidays.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	if h.Holidays == nil {
		writeJSON(w, http.StatusOK, []HolidayBody{})
		return
	}
	holidays, err := h.Holidays.ListHolidays(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]HolidayBody, len(holidays))
	for i, hol := range holidays {
		dtos[i] = HolidayBody{Date: hol.Date.String(), Name: hol.Name, Recurring: hol.Recurring}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateHoliday adds a company holiday and updates the live calendar.
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var body HolidayBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := engine.ParseDate(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	holiday := engine.Holiday{
		ID:        uuid.NewString(),
		Date:      date,
		Name:      body.Name,
		Recurring: body.Recurring,
	}
	if h.Holidays != nil {
		if err := h.Holidays.SaveHoliday(r.Context(), holiday); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if h.Calendar != nil {
		h.Calendar.Add(holiday)
	}
	writeJSON(w, http.StatusCreated, body)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetPolicy returns the current policy snapshot.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPolicyBody(h.Policies.Snapshot()))
}

// UpdatePolicy publishes a new policy snapshot. The swap is atomic;
// in-flight validations finish against the previous snapshot.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var body PolicyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cfg, err := fromPolicyBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy values", err)
		return
	}
	h.Policies.Swap(cfg)
	writeJSON(w, http.StatusOK, toPolicyBody(h.Policies.Snapshot()))
}

// TriggerRollover creates the new period's balance records for one
// employee, applying carry-over caps. Idempotent.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	var body RolloverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.EmployeeID == "" || body.Year == 0 {
		writeError(w, http.StatusBadRequest, "employee_id and year are required", nil)
		return
	}

	recs, err := h.Engine.RolloverEmployee(r.Context(), engine.EmployeeID(body.EmployeeID), body.Year)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]BalanceDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toBalanceDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAllocation seeds a balance record directly.
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var body AllocationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	allocated, err := engine.ParseDays(body.Allocated)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid allocated amount", err)
		return
	}
	carried, err := parseDaysOr(body.CarriedOver, engine.ZeroDays())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid carried_over amount", err)
		return
	}

	key := engine.BalanceKey{
		EmployeeID:  engine.EmployeeID(body.EmployeeID),
		LeaveTypeID: engine.LeaveTypeID(body.LeaveTypeID),
		PeriodYear:  body.PeriodYear,
	}
	rec, err := h.Engine.Ledger.Allocate(r.Context(), key, allocated, carried)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(rec))
}

// =============================================================================
// POLICY MAPPING
// =============================================================================

func toPolicyBody(cfg *engine.PolicyConfig) PolicyBody {
	body := PolicyBody{
		AdvanceNoticeDays:     cfg.AdvanceNoticeDays,
		AllowBackdated:        cfg.AllowBackdated,
		MaxConsecutiveDays:    cfg.MaxConsecutiveDays.String(),
		MinLeaveDuration:      cfg.MinLeaveDuration.String(),
		AllowOverlapping:      cfg.AllowOverlapping,
		AutoApproveEnabled:    cfg.AutoApproveEnabled,
		AutoApproveMaxDays:    cfg.AutoApproveMaxDays.String(),
		CarryOverEnabled:      cfg.CarryOverEnabled,
		DefaultCarryOverLimit: cfg.DefaultCarryOverLimit.String(),
	}
	if len(cfg.TypeOverrides) > 0 {
		body.TypeOverrides = make(map[string]TypeOverrideBody, len(cfg.TypeOverrides))
		for id, ov := range cfg.TypeOverrides {
			var tob TypeOverrideBody
			if ov.MaxConsecutiveDays != nil {
				s := ov.MaxConsecutiveDays.String()
				tob.MaxConsecutiveDays = &s
			}
			if ov.MinLeaveDuration != nil {
				s := ov.MinLeaveDuration.String()
				tob.MinLeaveDuration = &s
			}
			tob.AdvanceNoticeDays = ov.AdvanceNoticeDays
			body.TypeOverrides[string(id)] = tob
		}
	}
	return body
}

func fromPolicyBody(body PolicyBody) (*engine.PolicyConfig, error) {
	maxConsecutive, err := engine.ParseDays(body.MaxConsecutiveDays)
	if err != nil {
		return nil, err
	}
	minDuration, err := engine.ParseDays(body.MinLeaveDuration)
	if err != nil {
		return nil, err
	}
	autoMax, err := parseDaysOr(body.AutoApproveMaxDays, engine.ZeroDays())
	if err != nil {
		return nil, err
	}
	carryLimit, err := parseDaysOr(body.DefaultCarryOverLimit, engine.ZeroDays())
	if err != nil {
		return nil, err
	}

	cfg := &engine.PolicyConfig{
		AdvanceNoticeDays:     body.AdvanceNoticeDays,
		AllowBackdated:        body.AllowBackdated,
		MaxConsecutiveDays:    maxConsecutive,
		MinLeaveDuration:      minDuration,
		AllowOverlapping:      body.AllowOverlapping,
		AutoApproveEnabled:    body.AutoApproveEnabled,
		AutoApproveMaxDays:    autoMax,
		CarryOverEnabled:      body.CarryOverEnabled,
		DefaultCarryOverLimit: carryLimit,
	}
	if len(body.TypeOverrides) > 0 {
		cfg.TypeOverrides = make(map[engine.LeaveTypeID]engine.TypeOverride, len(body.TypeOverrides))
		for id, tob := range body.TypeOverrides {
			var ov engine.TypeOverride
			if tob.MaxConsecutiveDays != nil {
				d, err := engine.ParseDays(*tob.MaxConsecutiveDays)
				if err != nil {
					return nil, err
				}
				ov.MaxConsecutiveDays = &d
			}
			if tob.MinLeaveDuration != nil {
				d, err := engine.ParseDays(*tob.MinLeaveDuration)
				if err != nil {
					return nil, err
				}
				ov.MinLeaveDuration = &d
			}
			ov.AdvanceNoticeDays = tob.AdvanceNoticeDays
			cfg.TypeOverrides[engine.LeaveTypeID(id)] = ov
		}
	}
	return cfg, nil
}

func parseDaysOr(s string, fallback engine.Days) (engine.Days, error) {
	if s == "" {
		return fallback, nil
	}
	return engine.ParseDays(s)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Details = err.Error()
	}
	writeJSON(w, status, dto)
}

// writeEngineError maps engine errors onto HTTP statuses and stable codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorDTO{
			Error: "Conflicting update in progress, please retry",
			Code:  "conflict_retry",
		})
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, engine.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Already exists", err)
	case errors.Is(err, engine.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, ErrorDTO{
			Error:   "Action not allowed in the request's current state",
			Code:    "invalid_transition",
			Details: err.Error(),
		})
	case engine.IsClientError(err):
		writeJSON(w, http.StatusUnprocessableEntity, clientErrorDTO(err))
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func clientErrorDTO(err error) ErrorDTO {
	var pv *engine.PolicyViolationError
	if errors.As(err, &pv) {
		return ErrorDTO{Error: "Policy violation", Code: string(pv.Code), Details: err.Error()}
	}
	var ib *engine.InsufficientBalanceError
	if errors.As(err, &ib) {
		return ErrorDTO{Error: "Insufficient balance", Code: string(engine.ReasonBalance), Details: err.Error()}
	}
	return ErrorDTO{Error: "Rejected", Details: err.Error()}
}
