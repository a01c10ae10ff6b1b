package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"taxledger/internal/ledger"
	"taxledger/internal/types"
)

// TxBeginner is the transaction entry point, satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// planActiveAtQuery resolves the plan config assigned to a client on a date
// by joining the assignment interval covering it to the catalog.
const planActiveAtQuery = `SELECT p.plan_code, p.display_name, p.free_minutes_monthly, p.hourly_rate,
		p.is_active, p.created_at, p.updated_at
	 FROM client_plans cp
	 JOIN plan_configs p ON p.plan_code = cp.plan_code
	 WHERE cp.client_id = $1
	   AND cp.effective_from <= $2
	   AND (cp.effective_to IS NULL OR cp.effective_to >= $2)`

func planActiveAt(ctx context.Context, db DBTX, clientID string, at time.Time) (*types.PlanConfig, error) {
	row := db.QueryRow(ctx, planActiveAtQuery, clientID, types.Midnight(at))
	pc, err := scanPlanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve plan for date", err)
	}
	return pc, nil
}

// commitTx commits, translating lost serialization races into the retryable
// conflict code the service loops on.
func commitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		if IsRetryableConflict(err) {
			return types.NewAppError(types.ErrCodeConflictConcurrent, "transaction lost a commit race", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// RecordLedger is the pgx-backed store behind the time recording service.
// Begin hands out the transactional unit; the remaining methods serve the
// non-transactional read and correction paths.
type RecordLedger struct {
	pool    TxBeginner
	db      DBTX
	entries *TimeEntryRepo
}

// NewRecordLedger creates a RecordLedger. pool and db are usually the same
// *pgxpool.Pool.
func NewRecordLedger(pool TxBeginner, db DBTX) *RecordLedger {
	return &RecordLedger{
		pool:    pool,
		db:      db,
		entries: NewTimeEntryRepo(db),
	}
}

// Begin starts the recording transaction.
func (s *RecordLedger) Begin(ctx context.Context) (ledger.RecordTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &recordTx{tx: tx}, nil
}

const allowanceColumns = `client_id, period_start, plan_code,
	free_minutes_total, free_minutes_used, created_at, updated_at`

func scanAllowance(row pgx.Row) (*types.MonthlyAllowance, error) {
	var a types.MonthlyAllowance
	err := row.Scan(
		&a.ClientID,
		&a.PeriodStart,
		&a.PlanCode,
		&a.FreeMinutesTotal,
		&a.FreeMinutesUsed,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAllowance reads the allowance row without locking; nil when it has not
// been created yet.
func (s *RecordLedger) GetAllowance(ctx context.Context, clientID string, periodStart time.Time) (*types.MonthlyAllowance, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+allowanceColumns+`
		 FROM client_monthly_allowances
		 WHERE client_id = $1 AND period_start = $2`,
		clientID, types.Midnight(periodStart),
	)
	a, err := scanAllowance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve monthly allowance", err)
	}
	return a, nil
}

// PlanActiveAt resolves the plan assigned to the client on the given date.
func (s *RecordLedger) PlanActiveAt(ctx context.Context, clientID string, at time.Time) (*types.PlanConfig, error) {
	return planActiveAt(ctx, s.db, clientID, at)
}

// PeriodTotals aggregates non-deleted entries in the period.
func (s *RecordLedger) PeriodTotals(ctx context.Context, clientID string, periodStart, periodEnd time.Time) (int, int, int, int, error) {
	return s.entries.PeriodTotals(ctx, clientID, periodStart, periodEnd)
}

// SoftDeleteEntry flags an entry as deleted.
func (s *RecordLedger) SoftDeleteEntry(ctx context.Context, clientID, entryID, deletedBy string) error {
	return s.entries.SoftDelete(ctx, clientID, entryID, deletedBy)
}

// recordTx implements ledger.RecordTx on a single pgx transaction.
type recordTx struct {
	tx pgx.Tx
}

// LockAllowance takes a row lock on the client's allowance for the period,
// serializing concurrent recordings against the same month. Returns nil when
// the row does not exist yet.
func (t *recordTx) LockAllowance(ctx context.Context, clientID string, periodStart time.Time) (*types.MonthlyAllowance, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+allowanceColumns+`
		 FROM client_monthly_allowances
		 WHERE client_id = $1 AND period_start = $2
		 FOR UPDATE`,
		clientID, types.Midnight(periodStart),
	)
	a, err := scanAllowance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lock monthly allowance", err)
	}
	return a, nil
}

// InsertAllowance creates the period's allowance row. A concurrent creation
// loses on the primary key and is surfaced as a retryable conflict.
func (t *recordTx) InsertAllowance(ctx context.Context, a *types.MonthlyAllowance) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO client_monthly_allowances
			(client_id, period_start, plan_code, free_minutes_total, free_minutes_used, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		a.ClientID,
		types.Midnight(a.PeriodStart),
		a.PlanCode,
		a.FreeMinutesTotal,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "client_monthly_allowances_pkey") {
			return types.NewAppError(types.ErrCodeConflictConcurrent, "allowance was created concurrently", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create monthly allowance", err)
	}
	return nil
}

// AddAllowanceUsage increments consumption with the overshoot guard in the
// statement itself. Zero rows affected means the in-transaction read went
// stale, which the service treats as a lost race.
func (t *recordTx) AddAllowanceUsage(ctx context.Context, clientID string, periodStart time.Time, minutes int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE client_monthly_allowances SET
			free_minutes_used = free_minutes_used + $1,
			updated_at = NOW()
		 WHERE client_id = $2
		   AND period_start = $3
		   AND free_minutes_used + $1 <= free_minutes_total`,
		minutes, clientID, types.Midnight(periodStart),
	)
	if err != nil {
		if IsRetryableConflict(err) {
			return types.NewAppError(types.ErrCodeConflictConcurrent, "allowance update lost a race", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to consume allowance minutes", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "allowance changed concurrently", nil)
	}
	return nil
}

// InsertTimeEntry persists the entry inside the recording transaction.
func (t *recordTx) InsertTimeEntry(ctx context.Context, e *types.TimeEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO time_entries
			(id, client_id, advisor_user_id, worked_at, minutes,
			 free_minutes_consumed, billable_minutes, task, is_billable, source,
			 created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		 RETURNING created_at`,
		e.ID,
		e.ClientID,
		e.AdvisorUserID,
		types.Midnight(e.WorkedAt),
		e.Minutes,
		e.FreeMinutesConsumed,
		e.BillableMinutes,
		nilIfEmpty(e.Task),
		e.IsBillable,
		e.Source,
	).Scan(&e.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert time entry", err)
	}
	return nil
}

// PlanActiveAt resolves the plan within the transaction.
func (t *recordTx) PlanActiveAt(ctx context.Context, clientID string, at time.Time) (*types.PlanConfig, error) {
	return planActiveAt(ctx, t.tx, clientID, at)
}

func (t *recordTx) Commit(ctx context.Context) error {
	return commitTx(ctx, t.tx)
}

func (t *recordTx) Rollback(ctx context.Context) error {
	return rollbackTx(ctx, t.tx)
}

// AssignLedger is the pgx-backed store behind plan reassignment.
type AssignLedger struct {
	pool TxBeginner
}

// NewAssignLedger creates an AssignLedger.
func NewAssignLedger(pool TxBeginner) *AssignLedger {
	return &AssignLedger{pool: pool}
}

// Begin starts the assignment transaction.
func (s *AssignLedger) Begin(ctx context.Context) (ledger.AssignTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &assignTx{tx: tx}, nil
}

// assignTx implements ledger.AssignTx on a single pgx transaction.
type assignTx struct {
	tx pgx.Tx
}

// PlanByCode returns the catalog row, nil when the code is unknown.
func (t *assignTx) PlanByCode(ctx context.Context, code types.PlanCode) (*types.PlanConfig, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plan_configs WHERE plan_code = $1`,
		code,
	)
	pc, err := scanPlanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve plan config", err)
	}
	return pc, nil
}

// ActiveAssignmentForUpdate locks the client's open-ended assignment row so
// concurrent reassignments for the same client serialize.
func (t *assignTx) ActiveAssignmentForUpdate(ctx context.Context, clientID string) (*types.PlanAssignment, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM client_plans
		 WHERE client_id = $1 AND effective_to IS NULL
		 FOR UPDATE`,
		clientID,
	)
	pa, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lock active plan assignment", err)
	}
	return pa, nil
}

// CloseAssignment stamps effective_to on the previously open-ended row.
func (t *assignTx) CloseAssignment(ctx context.Context, assignmentID string, effectiveTo time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE client_plans SET effective_to = $1
		 WHERE id = $2 AND effective_to IS NULL`,
		types.Midnight(effectiveTo), assignmentID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to close plan assignment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "assignment was closed concurrently", nil)
	}
	return nil
}

// InsertAssignment creates the new open-ended row. The single-active-row
// partial index turns a lost race into a retryable conflict.
func (t *assignTx) InsertAssignment(ctx context.Context, pa *types.PlanAssignment) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO client_plans
			(id, client_id, plan_code, effective_from, effective_to, assigned_by, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5, NOW())
		 RETURNING created_at`,
		pa.ID,
		pa.ClientID,
		pa.PlanCode,
		types.Midnight(pa.EffectiveFrom),
		pa.AssignedBy,
	).Scan(&pa.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "client_plans_one_active") {
			return types.NewAppError(types.ErrCodeConflictConcurrent, "another assignment became active concurrently", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert plan assignment", err)
	}
	return nil
}

func (t *assignTx) Commit(ctx context.Context) error {
	return commitTx(ctx, t.tx)
}

func (t *assignTx) Rollback(ctx context.Context) error {
	return rollbackTx(ctx, t.tx)
}
