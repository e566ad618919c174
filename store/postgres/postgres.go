/*
Package postgres provides a PostgreSQL-backed implementation of the
engine's repository interfaces using pgx.

PURPOSE:
  The multi-instance deployment store. Optimistic concurrency is enforced
  the same way as in the SQLite store: every UPDATE is guarded by the
  version the caller read, so concurrent engine instances serialize on
  the version counter rather than on in-process locks.

NUMERIC STORAGE:
  Day quantities are NUMERIC(6,1) scanned through strings into decimals,
  so half-day arithmetic round-trips exactly.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/leave-engine/engine"
)

// Store implements the engine repositories on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against databaseURL and migrates the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		start_half BOOLEAN NOT NULL DEFAULT FALSE,
		end_half BOOLEAN NOT NULL DEFAULT FALSE,
		working_days NUMERIC(6,1) NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		current_approver TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMPTZ NOT NULL,
		manager_approved BOOLEAN,
		manager_by TEXT,
		manager_at TIMESTAMPTZ,
		manager_notes TEXT,
		hr_approved BOOLEAN,
		hr_by TEXT,
		hr_at TIMESTAMPTZ,
		hr_notes TEXT,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(employee_id, applied_at DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_approver
		ON leave_requests(current_approver) WHERE current_approver <> '';

	CREATE TABLE IF NOT EXISTS balance_records (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		period_year INT NOT NULL,
		allocated NUMERIC(6,1) NOT NULL,
		used NUMERIC(6,1) NOT NULL,
		carried_over NUMERIC(6,1) NOT NULL,
		reserved NUMERIC(6,1) NOT NULL,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, period_year)
	);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		max_days_per_year NUMERIC(6,1) NOT NULL,
		requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
		requires_hr_approval BOOLEAN NOT NULL DEFAULT FALSE,
		allows_carry_over BOOLEAN NOT NULL DEFAULT FALSE,
		carry_over_limit NUMERIC(6,1) NOT NULL DEFAULT 0,
		min_duration_unit NUMERIC(6,1) NOT NULL DEFAULT 0.5,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date DATE NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (date, name)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, employee_id, leave_type_id,
	to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
	start_half, end_half, working_days::text, COALESCE(reason, ''),
	status, current_approver, applied_at,
	manager_approved, manager_by, manager_at, manager_notes,
	hr_approved, hr_by, hr_at, hr_notes, version, updated_at`

func (s *Store) Get(ctx context.Context, id engine.RequestID) (*engine.LeaveRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`, string(id))
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	return req, err
}

func (s *Store) Create(ctx context.Context, req *engine.LeaveRequest) error {
	mgr := flattenDecision(req.ManagerDecision)
	hr := flattenDecision(req.HRDecision)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_requests
		(id, employee_id, leave_type_id, start_date, end_date, start_half, end_half,
		 working_days, reason, status, current_approver, applied_at,
		 manager_approved, manager_by, manager_at, manager_notes,
		 hr_approved, hr_by, hr_at, hr_notes, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		string(req.ID), string(req.EmployeeID), string(req.LeaveTypeID),
		req.StartDate.String(), req.EndDate.String(), req.StartHalf, req.EndHalf,
		req.WorkingDays.String(), req.Reason, string(req.Status), string(req.CurrentApprover),
		req.AppliedAt.UTC(),
		mgr.approved, mgr.by, mgr.at, mgr.notes,
		hr.approved, hr.by, hr.at, hr.notes,
		req.Version, req.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return engine.ErrAlreadyExists
	}
	return err
}

func (s *Store) Update(ctx context.Context, req *engine.LeaveRequest, expectedVersion int64) error {
	mgr := flattenDecision(req.ManagerDecision)
	hr := flattenDecision(req.HRDecision)
	tag, err := s.pool.Exec(ctx, `
		UPDATE leave_requests SET
			status = $1, current_approver = $2,
			manager_approved = $3, manager_by = $4, manager_at = $5, manager_notes = $6,
			hr_approved = $7, hr_by = $8, hr_at = $9, hr_notes = $10,
			version = $11, updated_at = $12
		WHERE id = $13 AND version = $14`,
		string(req.Status), string(req.CurrentApprover),
		mgr.approved, mgr.by, mgr.at, mgr.notes,
		hr.approved, hr.by, hr.at, hr.notes,
		expectedVersion+1, req.UpdatedAt.UTC(),
		string(req.ID), expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx,
			`SELECT COUNT(*) FROM leave_requests WHERE id = $1`, string(req.ID))
	}
	req.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.LeaveRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests
		 WHERE employee_id = $1 ORDER BY applied_at DESC, id`, string(employeeID))
}

func (s *Store) ListActiveByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.LeaveRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests
		 WHERE employee_id = $1 AND status = ANY($2)
		 ORDER BY applied_at DESC, id`,
		string(employeeID),
		[]string{string(engine.StatusPendingManager), string(engine.StatusPendingHR), string(engine.StatusApproved)})
}

func (s *Store) ListPendingByApprover(ctx context.Context, approver engine.Role) ([]*engine.LeaveRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM leave_requests
		 WHERE current_approver = $1 AND status = ANY($2)
		 ORDER BY applied_at DESC, id`,
		string(approver),
		[]string{string(engine.StatusPendingManager), string(engine.StatusPendingHR)})
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]*engine.LeaveRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
	var startDate, endDate, workingDays, status, approver string
	var mgr, hr flatDecision

	if err := row.Scan(
		&req.ID, &req.EmployeeID, &req.LeaveTypeID, &startDate, &endDate,
		&req.StartHalf, &req.EndHalf, &workingDays, &req.Reason, &status, &approver,
		&req.AppliedAt,
		&mgr.approved, &mgr.by, &mgr.at, &mgr.notes,
		&hr.approved, &hr.by, &hr.at, &hr.notes,
		&req.Version, &req.UpdatedAt,
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
	req.Status = engine.Status(status)
	req.CurrentApprover = engine.Role(approver)
	req.ManagerDecision = mgr.toDecision()
	req.HRDecision = hr.toDecision()
	return &req, nil
}

type flatDecision struct {
	approved *bool
	by       *string
	at       *time.Time
	notes    *string
}

func flattenDecision(d *engine.Decision) flatDecision {
	if d == nil {
		return flatDecision{}
	}
	by := string(d.By)
	at := d.At.UTC()
	return flatDecision{approved: &d.Approved, by: &by, at: &at, notes: &d.Notes}
}

func (f flatDecision) toDecision() *engine.Decision {
	if f.approved == nil {
		return nil
	}
	d := &engine.Decision{Approved: *f.approved}
	if f.by != nil {
		d.By = engine.ActorID(*f.by)
	}
	if f.at != nil {
		d.At = *f.at
	}
	if f.notes != nil {
		d.Notes = *f.notes
	}
	return d
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key engine.BalanceKey) (*engine.BalanceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT employee_id, leave_type_id, period_year,
		       allocated::text, used::text, carried_over::text, reserved::text,
		       version, updated_at
		FROM balance_records
		WHERE employee_id = $1 AND leave_type_id = $2 AND period_year = $3`,
		string(key.EmployeeID), string(key.LeaveTypeID), key.PeriodYear)
	rec, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	return rec, err
}

func (s *Store) CreateBalance(ctx context.Context, rec *engine.BalanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balance_records
		(employee_id, leave_type_id, period_year, allocated, used, carried_over, reserved, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(rec.EmployeeID), string(rec.LeaveTypeID), rec.PeriodYear,
		rec.Allocated.String(), rec.Used.String(), rec.CarriedOver.String(),
		rec.Reserved.String(), rec.Version, rec.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return engine.ErrAlreadyExists
	}
	return err
}

func (s *Store) UpdateBalance(ctx context.Context, rec *engine.BalanceRecord, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balance_records SET
			allocated = $1, used = $2, carried_over = $3, reserved = $4,
			version = $5, updated_at = $6
		WHERE employee_id = $7 AND leave_type_id = $8 AND period_year = $9 AND version = $10`,
		rec.Allocated.String(), rec.Used.String(), rec.CarriedOver.String(), rec.Reserved.String(),
		expectedVersion+1, rec.UpdatedAt.UTC(),
		string(rec.EmployeeID), string(rec.LeaveTypeID), rec.PeriodYear, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, `
			SELECT COUNT(*) FROM balance_records
			WHERE employee_id = $1 AND leave_type_id = $2 AND period_year = $3`,
			string(rec.EmployeeID), string(rec.LeaveTypeID), rec.PeriodYear)
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListBalancesByEmployee(ctx context.Context, employeeID engine.EmployeeID) ([]*engine.BalanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT employee_id, leave_type_id, period_year,
		       allocated::text, used::text, carried_over::text, reserved::text,
		       version, updated_at
		FROM balance_records
		WHERE employee_id = $1
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
	var allocated, used, carried, reserved string
	if err := row.Scan(
		&rec.EmployeeID, &rec.LeaveTypeID, &rec.PeriodYear,
		&allocated, &used, &carried, &reserved, &rec.Version, &rec.UpdatedAt,
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
	return &rec, nil
}

// =============================================================================
// LEAVE TYPE STORE
// =============================================================================

func (s *Store) GetLeaveType(ctx context.Context, id engine.LeaveTypeID) (*engine.LeaveType, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, max_days_per_year::text, requires_approval, requires_hr_approval,
		       allows_carry_over, carry_over_limit::text, min_duration_unit::text, created_at
		FROM leave_types WHERE id = $1`, string(id))
	lt, err := scanLeaveType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	return lt, err
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]*engine.LeaveType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, max_days_per_year::text, requires_approval, requires_hr_approval,
		       allows_carry_over, carry_over_limit::text, min_duration_unit::text, created_at
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_types
		(id, name, max_days_per_year, requires_approval, requires_hr_approval,
		 allows_carry_over, carry_over_limit, min_duration_unit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			max_days_per_year = EXCLUDED.max_days_per_year,
			requires_approval = EXCLUDED.requires_approval,
			requires_hr_approval = EXCLUDED.requires_hr_approval,
			allows_carry_over = EXCLUDED.allows_carry_over,
			carry_over_limit = EXCLUDED.carry_over_limit,
			min_duration_unit = EXCLUDED.min_duration_unit`,
		string(lt.ID), lt.Name, lt.MaxDaysPerYear.String(),
		lt.RequiresApproval, lt.RequiresHRApproval,
		lt.AllowsCarryOver, lt.CarryOverLimit.String(), lt.MinDurationUnit.String(),
		lt.CreatedAt.UTC())
	return err
}

func scanLeaveType(row rowScanner) (*engine.LeaveType, error) {
	var lt engine.LeaveType
	var maxDays, carryLimit, minUnit string
	if err := row.Scan(
		&lt.ID, &lt.Name, &maxDays, &lt.RequiresApproval, &lt.RequiresHRApproval,
		&lt.AllowsCarryOver, &carryLimit, &minUnit, &lt.CreatedAt,
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
	return &lt, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h engine.Holiday) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holidays (id, date, name, recurring) VALUES ($1,$2,$3,$4)`,
		h.ID, h.Date.String(), h.Name, h.Recurring)
	if isUniqueViolation(err) {
		return engine.ErrAlreadyExists
	}
	return err
}

func (s *Store) ListHolidays(ctx context.Context) ([]engine.Holiday, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, to_char(date, 'YYYY-MM-DD'), name, recurring FROM holidays ORDER BY date`)
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
// HELPERS AND ADAPTERS
// =============================================================================

func (s *Store) classifyMiss(ctx context.Context, countQuery string, args ...any) error {
	var count int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return engine.ErrNotFound
	}
	return engine.ErrConcurrentModification
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

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

var (
	_ engine.RequestStore   = (*Store)(nil)
	_ engine.BalanceStore   = balanceAdapter{}
	_ engine.LeaveTypeStore = typeAdapter{}
)
