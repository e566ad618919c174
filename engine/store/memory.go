// Package store provides in-memory repository implementations, used by
// tests and development. Version checks mirror the compare-and-swap
// semantics of the SQL stores so concurrency behavior is identical.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/engine"
)

// =============================================================================
// MEMORY REQUEST STORE
// =============================================================================

type MemoryRequests struct {
	mu       sync.RWMutex
	requests map[engine.RequestID]*engine.LeaveRequest
}

func NewMemoryRequests() *MemoryRequests {
	return &MemoryRequests{requests: make(map[engine.RequestID]*engine.LeaveRequest)}
}

func (m *MemoryRequests) Get(_ context.Context, id engine.RequestID) (*engine.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return req.Clone(), nil
}

func (m *MemoryRequests) Create(_ context.Context, req *engine.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return engine.ErrAlreadyExists
	}
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *MemoryRequests) Update(_ context.Context, req *engine.LeaveRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[req.ID]
	if !ok {
		return engine.ErrNotFound
	}
	if current.Version != expectedVersion {
		return engine.ErrConcurrentModification
	}
	cp := req.Clone()
	cp.Version = expectedVersion + 1
	m.requests[req.ID] = cp
	req.Version = cp.Version
	return nil
}

func (m *MemoryRequests) ListByEmployee(_ context.Context, employeeID engine.EmployeeID) ([]*engine.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.LeaveRequest
	for _, req := range m.requests {
		if req.EmployeeID == employeeID {
			out = append(out, req.Clone())
		}
	}
	sortByAppliedAtDesc(out)
	return out, nil
}

func (m *MemoryRequests) ListActiveByEmployee(_ context.Context, employeeID engine.EmployeeID) ([]*engine.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.LeaveRequest
	for _, req := range m.requests {
		if req.EmployeeID != employeeID {
			continue
		}
		if req.Status == engine.StatusPendingManager ||
			req.Status == engine.StatusPendingHR ||
			req.Status == engine.StatusApproved {
			out = append(out, req.Clone())
		}
	}
	sortByAppliedAtDesc(out)
	return out, nil
}

func (m *MemoryRequests) ListPendingByApprover(_ context.Context, approver engine.Role) ([]*engine.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.LeaveRequest
	for _, req := range m.requests {
		if req.CurrentApprover == approver && !req.Status.IsTerminal() {
			out = append(out, req.Clone())
		}
	}
	sortByAppliedAtDesc(out)
	return out, nil
}

func sortByAppliedAtDesc(reqs []*engine.LeaveRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].AppliedAt.Equal(reqs[j].AppliedAt) {
			return reqs[i].AppliedAt.After(reqs[j].AppliedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}

// =============================================================================
// MEMORY BALANCE STORE
// =============================================================================

type MemoryBalances struct {
	mu      sync.RWMutex
	records map[engine.BalanceKey]*engine.BalanceRecord
}

func NewMemoryBalances() *MemoryBalances {
	return &MemoryBalances{records: make(map[engine.BalanceKey]*engine.BalanceRecord)}
}

func (m *MemoryBalances) Get(_ context.Context, key engine.BalanceKey) (*engine.BalanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryBalances) Create(_ context.Context, rec *engine.BalanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key()]; ok {
		return engine.ErrAlreadyExists
	}
	cp := *rec
	m.records[rec.Key()] = &cp
	return nil
}

func (m *MemoryBalances) Update(_ context.Context, rec *engine.BalanceRecord, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[rec.Key()]
	if !ok {
		return engine.ErrNotFound
	}
	if current.Version != expectedVersion {
		return engine.ErrConcurrentModification
	}
	cp := *rec
	cp.Version = expectedVersion + 1
	m.records[rec.Key()] = &cp
	rec.Version = cp.Version
	return nil
}

func (m *MemoryBalances) ListByEmployee(_ context.Context, employeeID engine.EmployeeID) ([]*engine.BalanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.BalanceRecord
	for _, rec := range m.records {
		if rec.EmployeeID == employeeID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodYear != out[j].PeriodYear {
			return out[i].PeriodYear > out[j].PeriodYear
		}
		return out[i].LeaveTypeID < out[j].LeaveTypeID
	})
	return out, nil
}

// =============================================================================
// MEMORY LEAVE TYPE STORE
// =============================================================================

type MemoryLeaveTypes struct {
	mu    sync.RWMutex
	types map[engine.LeaveTypeID]*engine.LeaveType
}

func NewMemoryLeaveTypes(types ...engine.LeaveType) *MemoryLeaveTypes {
	m := &MemoryLeaveTypes{types: make(map[engine.LeaveTypeID]*engine.LeaveType)}
	for _, lt := range types {
		cp := lt
		m.types[lt.ID] = &cp
	}
	return m
}

func (m *MemoryLeaveTypes) Get(_ context.Context, id engine.LeaveTypeID) (*engine.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lt, ok := m.types[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *lt
	return &cp, nil
}

func (m *MemoryLeaveTypes) List(_ context.Context) ([]*engine.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.LeaveType, 0, len(m.types))
	for _, lt := range m.types {
		cp := *lt
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryLeaveTypes) Save(_ context.Context, lt *engine.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lt
	m.types[lt.ID] = &cp
	return nil
}
