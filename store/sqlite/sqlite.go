/*
Package sqlite provides a SQLite-backed implementation of the engine's
repository interfaces.

PURPOSE:
  The default single-node deployment store. Implements RequestStore,
  BalanceStore, and LeaveTypeStore with optimistic concurrency control:
  every UPDATE is guarded by the version the caller read, so a lost race
  surfaces as ErrConcurrentModification instead of silently clobbering a
  concurrent write.

KEY TABLES:
  leave_requests:  workflow entities, never deleted
  balance_records: one row per (employee, leave type, period year)
  leave_types:     administrative catalog
  holidays:        working-day calendar input

NUMERIC STORAGE:
  Day quantities are stored as decimal TEXT, never floating point, so
  half-day arithmetic round-trips exactly.

WAL MODE:
  SQLite is opened with WAL for better read concurrency and crash
  recovery.

SEE ALSO:
  - engine/store.go: interface contracts
  - store/postgres: the pgx-based production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/engine"
)

// Store implements the engine repositories using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		start_half BOOLEAN NOT NULL DEFAULT FALSE,
		end_half BOOLEAN NOT NULL DEFAULT FALSE,
		working_days TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		current_approver TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL,
		manager_approved BOOLEAN,
		manager_by TEXT,
		manager_at TEXT,
		manager_notes TEXT,
		hr_approved BOOLEAN,
		hr_by TEXT,
		hr_at TEXT,
		hr_notes TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(employee_id, applied_at DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_approver
		ON leave_requests(current_approver) WHERE current_approver != '';

	CREATE TABLE IF NOT EXISTS balance_records (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		allocated TEXT NOT NULL,
		used TEXT NOT NULL,
		carried_over TEXT NOT NULL,
		reserved TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, period_year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_employee
		ON balance_records(employee_id, period_year DESC);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		max_days_per_year TEXT NOT NULL,
		requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
		requires_hr_approval BOOLEAN NOT NULL DEFAULT FALSE,
		allows_carry_over BOOLEAN NOT NULL DEFAULT FALSE,
		carry_over_limit TEXT NOT NULL DEFAULT '0',
		min_duration_unit TEXT NOT NULL DEFAULT '0.5',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(date, name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date,
	start_half, end_half, working_days, reason, status, current_approver,
	applied_at, manager_approved, manager_by, manager_at, manager_notes,
	hr_approved, hr_by, hr_at, hr_notes, version, updated_at`

func (s *Store) Get(ctx context.Context, id engine.RequestID) (*engine.LeaveRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, string(id))
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return req, err
}

func (s *Store) Create(ctx context.Context, req *engine.LeaveRequest) error {
	mgr := flattenDecision(req.ManagerDecision)
	hr := flattenDecision(req.HRDecision)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(req.ID), string(req.EmployeeID), string(req.LeaveTypeID),
		req.StartDate.String(), req.EndDate.String(),
		req.StartHalf, req.EndHalf,
		req.WorkingDays.String(), req.Reason,
		string(req.Status), string(req.CurrentApprover),
		req.AppliedAt.UTC().Format(time.RFC3339),
		mgr.approved, mgr.by, mgr.at, mgr.notes,
		hr.approved, hr.by, hr.at, hr.notes,
		req.Version, req.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return engine.ErrAlreadyExists
	}
	return err
}

func (s *Store) Update(ctx context.Context, req *engine.LeaveRequest, expectedVersion int64) error {
	mgr := flattenDecision(req.ManagerDecision)
	hr := flattenDecision(req.HRDecision)
	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_requests SET
			status = ?, current_approver = ?,
			manager_approved = ?, manager_by = ?, manager_at = ?, manager_notes = ?,
			hr_approved = ?, hr_by = ?, hr_at = ?, hr_notes = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(req.Status), string(req.CurrentApprover),
		mgr.approved, mgr.by, mgr.at, mgr.notes,
		hr.approved, hr.by, hr.at, hr.notes,
		expectedVersion+1, req.UpdatedAt.UTC().Format(time.RFC3339),
		string(req.ID), expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.classifyMiss(ctx,
			`SELECT COUNT(*) FROM leave_requests WHERE id = ?`, string(req.ID))
	}
	req.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.LeaveRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests
		 WHERE employee_id = ? ORDER BY applied_at DESC, id`, string(employeeID))
}

func (s *Store) ListActiveByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.LeaveRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests
		 WHERE employee_id = ? AND status IN (?,?,?)
		 ORDER BY applied_at DESC, id`,
		string(employeeID),
		string(engine.StatusPendingManager), string(engine.StatusPendingHR),
		string(engine.StatusApproved))
}

func (s *Store) ListPendingByApprover(ctx context.Context, approver engine.Role) ([]*engine.LeaveRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests
		 WHERE current_approver = ? AND status IN (?,?)
		 ORDER BY applied_at DESC, id`,
		string(approver),
		string(engine.StatusPendingManager), string(engine.StatusPendingHR))
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]*engine.LeaveRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []*engine.LeaveRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*engine.LeaveRequest, error) {
	var req engine.LeaveRequest
	var startDate, endDate, appliedAt, updatedAt string
	var workingDays, status, approver string
	var reason sql.NullString
	var mgr, hr flatDecision

	if err := row.Scan(
		&req.ID, &req.EmployeeID, &req.LeaveTypeID, &startDate, &endDate,
		&req.StartHalf, &req.EndHalf, &workingDays, &reason, &status, &approver,
		&appliedAt,
		&mgr.approved, &mgr.by, &mgr.at, &mgr.notes,
		&hr.approved, &hr.by, &hr.at, &hr.notes,
		&req.Version, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if req.StartDate, err = engine.ParseDate(startDate); err != nil {
		return nil, err
	}
	if req.EndDate, err = engine.ParseDate(endDate); err != nil {
		return nil, err
	}
	if req.WorkingDays, err = engine.ParseDays(workingDays); err != nil {
		return nil, err
	}
	if req.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
		return nil, err
	}
	if req.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, err
	}
	req.Reason = reason.String
	req.Status = engine.Status(status)
	req.CurrentApprover = engine.Role(approver)
	req.ManagerDecision = mgr.toDecision()
	req.HRDecision = hr.toDecision()
	return &req, nil
}

// flatDecision maps the nullable decision columns.
type flatDecision struct {
	approved sql.NullBool
	by       sql.NullString
	at       sql.NullString
	notes    sql.NullString
}

func flattenDecision(d *engine.Decision) flatDecision {
	if d == nil {
		return flatDecision{}
	}
	return flatDecision{
		approved: sql.NullBool{Bool: d.Approved, Valid: true},
		by:       sql.NullString{String: string(d.By), Valid: true},
		at:       sql.NullString{String: d.At.UTC().Format(time.RFC3339), Valid: true},
		notes:    sql.NullString{String: d.Notes, Valid: true},
	}
}

func (f flatDecision) toDecision() *engine.Decision {
	if !f.approved.Valid {
		return nil
	}
	at, _ := time.Parse(time.RFC3339, f.at.String)
	return &engine.Decision{
		Approved: f.approved.Bool,
		By:       engine.ActorID(f.by.String),
		At:       at,
		Notes:    f.notes.String,
	}
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key engine.BalanceKey) (*engine.BalanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT employee_id, leave_type_id, period_year, allocated, used,
		       carried_over, reserved, version, updated_at
		FROM balance_records
		WHERE employee_id = ? AND leave_type_id = ? AND period_year = ?`,
		string(key.EmployeeID), string(key.LeaveTypeID), key.PeriodYear)
	rec, err := scanBalance(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return rec, err
}

func (s *Store) CreateBalance(ctx context.Context, rec *engine.BalanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_records
		(employee_id, leave_type_id, period_year, allocated, used, carried_over, reserved, version, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		string(rec.EmployeeID), string(rec.LeaveTypeID), rec.PeriodYear,
		rec.Allocated.String(), rec.Used.String(), rec.CarriedOver.String(),
		rec.Reserved.String(), rec.Version, rec.UpdatedAt.UTC().Format(time.RFC3339))
	if isUniqueConstraintError(err) {
		return engine.ErrAlreadyExists
	}
	return err
}

func (s *Store) UpdateBalance(ctx context.Context, rec *engine.BalanceRecord, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE balance_records SET
			allocated = ?, used = ?, carried_over = ?, reserved = ?,
			version = ?, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND period_year = ? AND version = ?`,
		rec.Allocated.String(), rec.Used.String(), rec.CarriedOver.String(), rec.Reserved.String(),
		expectedVersion+1, rec.UpdatedAt.UTC().Format(time.RFC3339),
		string(rec.EmployeeID), string(rec.LeaveTypeID), rec.PeriodYear, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.classifyMiss(ctx, `
			SELECT COUNT(*) FROM balance_records
			WHERE employee_id = ? AND leave_type_id = ? AND period_year = ?`,
			string(rec.EmployeeID), string(rec.LeaveTypeID), rec.PeriodYear)
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListBalancesByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.BalanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, leave_type_id, period_year, allocated, used,
		       carried_over, reserved, version, updated_at
		FROM balance_records
		WHERE employee_id = ?
		ORDER BY period_year DESC, leave_type_id`, string(employeeID))
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []*engine.BalanceRecord
	for rows.Next() {
		rec, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanBalance(row rowScanner) (*engine.BalanceRecord, error) {
	var rec engine.BalanceRecord
	var allocated, used, carried, reserved, updatedAt string
	if err := row.Scan(
		&rec.EmployeeID, &rec.LeaveTypeID, &rec.PeriodYear,
		&allocated, &used, &carried, &reserved, &rec.Version, &updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if rec.Allocated, err = engine.ParseDays(allocated); err != nil {
		return nil, err
	}
	if rec.Used, err = engine.ParseDays(used); err != nil {
		return nil, err
	}
	if rec.CarriedOver, err = engine.ParseDays(carried); err != nil {
		return nil, err
	}
	if rec.Reserved, err = engine.ParseDays(reserved); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// =============================================================================
// LEAVE TYPE STORE
// =============================================================================

func (s *Store) GetLeaveType(ctx context.Context, id engine.LeaveTypeID) (*engine.LeaveType, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, max_days_per_year, requires_approval, requires_hr_approval,
		       allows_carry_over, carry_over_limit, min_duration_unit, created_at
		FROM leave_types WHERE id = ?`, string(id))
	lt, err := scanLeaveType(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return lt, err
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]*engine.LeaveType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, max_days_per_year, requires_approval, requires_hr_approval,
		       allows_carry_over, carry_over_limit, min_duration_unit, created_at
		FROM leave_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []*engine.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func (s *Store) SaveLeaveType(ctx context.Context, lt *engine.LeaveType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types
		(id, name, max_days_per_year, requires_approval, requires_hr_approval,
		 allows_carry_over, carry_over_limit, min_duration_unit, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_days_per_year = excluded.max_days_per_year,
			requires_approval = excluded.requires_approval,
			requires_hr_approval = excluded.requires_hr_approval,
			allows_carry_over = excluded.allows_carry_over,
			carry_over_limit = excluded.carry_over_limit,
			min_duration_unit = excluded.min_duration_unit`,
		string(lt.ID), lt.Name, lt.MaxDaysPerYear.String(),
		lt.RequiresApproval, lt.RequiresHRApproval,
		lt.AllowsCarryOver, lt.CarryOverLimit.String(), lt.MinDurationUnit.String(),
		lt.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func scanLeaveType(row rowScanner) (*engine.LeaveType, error) {
	var lt engine.LeaveType
	var maxDays, carryLimit, minUnit, createdAt string
	if err := row.Scan(
		&lt.ID, &lt.Name, &maxDays, &lt.RequiresApproval, &lt.RequiresHRApproval,
		&lt.AllowsCarryOver, &carryLimit, &minUnit, &createdAt,
	); err != nil {
		return nil, err
	}
	var err error
	if lt.MaxDaysPerYear, err = engine.ParseDays(maxDays); err != nil {
		return nil, err
	}
	if lt.CarryOverLimit, err = engine.ParseDays(carryLimit); err != nil {
		return nil, err
	}
	if lt.MinDurationUnit, err = engine.ParseDays(minUnit); err != nil {
		return nil, err
	}
	if lt.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}
	return &lt, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h engine.Holiday) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring) VALUES (?,?,?,?)`,
		h.ID, h.Date.String(), h.Name, h.Recurring)
	if isUniqueConstraintError(err) {
		return engine.ErrAlreadyExists
	}
	return err
}

func (s *Store) ListHolidays(ctx context.Context) ([]engine.Holiday, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, name, recurring FROM holidays ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []engine.Holiday
	for rows.Next() {
		var h engine.Holiday
		var date string
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = engine.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// classifyMiss distinguishes a missing row from a lost version race after
// an UPDATE affected zero rows.
func (s *Store) classifyMiss(ctx context.Context, countQuery string, args ...any) error {
	var count int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return engine.ErrNotFound
	}
	return engine.ErrConcurrentModification
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// INTERFACE ADAPTERS
// =============================================================================

// Requests exposes the store as an engine.RequestStore.
func (s *Store) Requests() engine.RequestStore { return s }

// Balances exposes the store as an engine.BalanceStore.
func (s *Store) Balances() engine.BalanceStore { return balanceAdapter{s} }

// LeaveTypes exposes the store as an engine.LeaveTypeStore.
func (s *Store) LeaveTypes() engine.LeaveTypeStore { return typeAdapter{s} }

type balanceAdapter struct{ s *Store }

func (a balanceAdapter) Get(ctx context.Context, key engine.BalanceKey) (*engine.BalanceRecord, error) {
	return a.s.GetBalance(ctx, key)
}
func (a balanceAdapter) Create(ctx context.Context, rec *engine.BalanceRecord) error {
	return a.s.CreateBalance(ctx, rec)
}
func (a balanceAdapter) Update(ctx context.Context, rec *engine.BalanceRecord, expectedVersion int64) error {
	return a.s.UpdateBalance(ctx, rec, expectedVersion)
}
func (a balanceAdapter) ListByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.BalanceRecord, error) {
	return a.s.ListBalancesByEmployee(ctx, employeeID)
}

type typeAdapter struct{ s *Store }

func (a typeAdapter) Get(ctx context.Context, id engine.LeaveTypeID) (*engine.LeaveType, error) {
	return a.s.GetLeaveType(ctx, id)
}
func (a typeAdapter) List(ctx context.Context) ([]*engine.LeaveType, error) {
	return a.s.ListLeaveTypes(ctx)
}
func (a typeAdapter) Save(ctx context.Context, lt *engine.LeaveType) error {
	return a.s.SaveLeaveType(ctx, lt)
}

// Compile-time interface checks.
var (
	_ engine.RequestStore   = (*Store)(nil)
	_ engine.BalanceStore   = balanceAdapter{}
	_ engine.LeaveTypeStore = typeAdapter{}
)
