package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/engine"
	"github.com/warp/leave-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	ledger *engine.BalanceLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	types := store.NewMemoryLeaveTypes(
		engine.LeaveType{ID: "annual", Name: "Annual Leave", MaxDaysPerYear: engine.DaysFromInt(20),
			RequiresApproval: true, RequiresHRApproval: true, MinDurationUnit: engine.NewDays(0.5)},
		engine.LeaveType{ID: "sick", Name: "Sick Leave", MaxDaysPerYear: engine.DaysFromInt(10),
			RequiresApproval: true, MinDurationUnit: engine.NewDays(0.5)},
	)
	ledger := engine.NewBalanceLedger(store.NewMemoryBalances())
	policies := engine.NewPolicyStore(nil)
	orch := engine.NewOrchestrator(
		store.NewMemoryRequests(), types, ledger, policies,
		engine.NewWorkingCalendar(nil), engine.NopPublisher{})
	orch.Clock = func() time.Time { return time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC) }

	handler := api.NewHandler(orch, policies, nil, nil)
	// Empty secret selects header-based identity.
	router := api.NewRouter(handler, "", nil)

	return &testServer{router: router, ledger: ledger}
}

func (s *testServer) fund(t *testing.T, employee, leaveType string, days int) {
	t.Helper()
	key := engine.BalanceKey{EmployeeID: engine.EmployeeID(employee), LeaveTypeID: engine.LeaveTypeID(leaveType), PeriodYear: 2026}
	_, err := s.ledger.Allocate(context.Background(), key, engine.DaysFromInt(days), engine.ZeroDays())
	require.NoError(t, err)
}

func (s *testServer) do(t *testing.T, method, path string, body any, identity map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range identity {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func asEmployee(id string) map[string]string {
	return map[string]string{"X-Actor-ID": id, "X-Actor-Role": "EMPLOYEE"}
}

func asRole(id, role string) map[string]string {
	return map[string]string{"X-Actor-ID": id, "X-Actor-Role": role}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func submitWeek(t *testing.T, s *testServer, employee, leaveType string) api.RequestDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/requests", api.SubmitRequestBody{
		LeaveTypeID: leaveType,
		StartDate:   "2026-06-01",
		EndDate:     "2026-06-05",
		Reason:      "summer break",
	}, asEmployee(employee))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.RequestDTO](t, rec)
}

// =============================================================================
// REQUEST LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_SubmitRequest(t *testing.T) {
	// GIVEN: A funded employee
	// WHEN: Submitting a week of annual leave
	// THEN: 201 with a PENDING_MANAGER request and 5 working days

	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 18)

	dto := submitWeek(t, s, "emp-1", "annual")
	assert.Equal(t, "PENDING_MANAGER", dto.Status)
	assert.Equal(t, "MANAGER", dto.CurrentApprover)
	assert.Equal(t, "5", dto.WorkingDays)
	assert.Equal(t, "emp-1", dto.EmployeeID)
	assert.NotEmpty(t, dto.ID)
}

func TestAPI_SubmitRequest_NoIdentity_Unauthorized(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/requests", api.SubmitRequestBody{
		LeaveTypeID: "annual", StartDate: "2026-06-01", EndDate: "2026-06-05",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_SubmitRequest_BadDate_BadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/requests", api.SubmitRequestBody{
		LeaveTypeID: "annual", StartDate: "01/06/2026", EndDate: "2026-06-05",
	}, asEmployee("emp-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_FullApprovalFlow(t *testing.T) {
	// GIVEN: A submitted annual request (manager + HR stages)
	// WHEN: Manager approves, then HR approves
	// THEN: PENDING_HR then APPROVED, and the balance view shows 5 used

	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 18)
	dto := submitWeek(t, s, "emp-1", "annual")

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/decision",
		api.DecisionBody{Approve: true, Notes: "ok"}, asRole("mgr-1", "MANAGER"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING_HR", decode[api.RequestDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/decision",
		api.DecisionBody{Approve: true}, asRole("hr-1", "HR"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[api.RequestDTO](t, rec)
	assert.Equal(t, "APPROVED", approved.Status)
	require.NotNil(t, approved.ManagerDecision)
	require.NotNil(t, approved.HRDecision)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/balance", nil, asEmployee("emp-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[[]api.BalanceDTO](t, rec)
	require.Len(t, balances, 1)
	assert.Equal(t, "5", balances[0].Used)
	assert.Equal(t, "13", balances[0].Available)
}

func TestAPI_Decide_WrongStage_Conflict(t *testing.T) {
	// GIVEN: A request waiting on the manager
	// WHEN: HR tries to decide it
	// THEN: 409 with code invalid_transition

	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 18)
	dto := submitWeek(t, s, "emp-1", "annual")

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/decision",
		api.DecisionBody{Approve: true}, asRole("hr-1", "HR"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[api.ErrorDTO](t, rec).Code)
}

func TestAPI_Cancel(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 18)
	dto := submitWeek(t, s, "emp-1", "annual")

	rec := s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/cancel", nil, asEmployee("emp-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[api.RequestDTO](t, rec).Status)

	// Cancelling again is a conflict: the request is terminal.
	rec = s.do(t, http.MethodPost, "/api/requests/"+dto.ID+"/cancel", nil, asEmployee("emp-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 3)

	// Insufficient balance -> 422 with the stable reason code.
	rec := s.do(t, http.MethodPost, "/api/requests", api.SubmitRequestBody{
		LeaveTypeID: "annual", StartDate: "2026-06-01", EndDate: "2026-06-05",
	}, asEmployee("emp-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_balance", decode[api.ErrorDTO](t, rec).Code)

	// Unknown request -> 404.
	rec = s.do(t, http.MethodGet, "/api/requests/nope", nil, asEmployee("emp-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown leave type -> 404.
	rec = s.do(t, http.MethodPost, "/api/requests", api.SubmitRequestBody{
		LeaveTypeID: "sabbatical", StartDate: "2026-06-01", EndDate: "2026-06-05",
	}, asEmployee("emp-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PENDING QUEUES
// =============================================================================

func TestAPI_PendingQueue_ByRole(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 18)
	dto := submitWeek(t, s, "emp-1", "annual")

	rec := s.do(t, http.MethodGet, "/api/requests/pending", nil, asRole("mgr-1", "MANAGER"))
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[[]api.RequestDTO](t, rec)
	require.Len(t, queue, 1)
	assert.Equal(t, dto.ID, queue[0].ID)

	rec = s.do(t, http.MethodGet, "/api/requests/pending?role=HR", nil, asRole("mgr-1", "MANAGER"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.RequestDTO](t, rec))
}

// =============================================================================
// ADMIN SURFACE
// =============================================================================

func TestAPI_PolicyRoundTrip(t *testing.T) {
	// GIVEN: The default policy
	// WHEN: Publishing a new snapshot over PUT
	// THEN: GET reflects the new values and the engine enforces them

	s := newTestServer(t)
	s.fund(t, "emp-1", "annual", 18)

	rec := s.do(t, http.MethodPut, "/api/admin/policy", api.PolicyBody{
		MaxConsecutiveDays: "2",
		MinLeaveDuration:   "0.5",
		CarryOverEnabled:   true,
	}, asRole("admin", "HR"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/admin/policy", nil, asRole("admin", "HR"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", decode[api.PolicyBody](t, rec).MaxConsecutiveDays)

	// The 5-day request now violates the 2-day consecutive cap.
	rec = s.do(t, http.MethodPost, "/api/requests", api.SubmitRequestBody{
		LeaveTypeID: "annual", StartDate: "2026-06-01", EndDate: "2026-06-05",
	}, asEmployee("emp-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "max_consecutive", decode[api.ErrorDTO](t, rec).Code)
}

func TestAPI_Allocation_And_Rollover(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/allocations", api.AllocationBody{
		EmployeeID: "emp-9", LeaveTypeID: "annual", PeriodYear: 2026, Allocated: "18",
	}, asRole("admin", "HR"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "18", decode[api.BalanceDTO](t, rec).Available)

	// Duplicate allocation conflicts.
	rec = s.do(t, http.MethodPost, "/api/admin/allocations", api.AllocationBody{
		EmployeeID: "emp-9", LeaveTypeID: "annual", PeriodYear: 2026, Allocated: "18",
	}, asRole("admin", "HR"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/rollover", api.RolloverBody{
		EmployeeID: "emp-9", Year: 2027,
	}, asRole("admin", "HR"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recs := decode[[]api.BalanceDTO](t, rec)
	assert.Len(t, recs, 2, "one record per configured leave type")
}

// =============================================================================
// JWT IDENTITY
// =============================================================================

func TestAPI_JWTIdentity(t *testing.T) {
	// GIVEN: A router configured with a signing secret
	// WHEN: Calling with a valid token, an invalid token, and no token
	// THEN: Only the valid token passes

	types := store.NewMemoryLeaveTypes(
		engine.LeaveType{ID: "sick", Name: "Sick", MaxDaysPerYear: engine.DaysFromInt(10),
			RequiresApproval: true, MinDurationUnit: engine.NewDays(0.5)})
	ledger := engine.NewBalanceLedger(store.NewMemoryBalances())
	policies := engine.NewPolicyStore(nil)
	orch := engine.NewOrchestrator(store.NewMemoryRequests(), types, ledger, policies,
		engine.NewWorkingCalendar(nil), engine.NopPublisher{})
	router := api.NewRouter(api.NewHandler(orch, policies, nil, nil), "test-secret", nil)

	token, err := api.NewToken("test-secret", api.Identity{ActorID: "emp-1", Role: engine.RoleEmployee})
	require.NoError(t, err)

	call := func(auth string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/employees/emp-1/requests", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("Bearer "+token))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, call(""))
}
