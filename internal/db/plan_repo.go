package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"taxledger/internal/types"
)

// PlanConfigRepo provides data access for the plan_configs catalog table.
// Catalog rows are admin-edited in place and never deleted, only deactivated.
type PlanConfigRepo struct {
	db DBTX
}

// NewPlanConfigRepo creates a new PlanConfigRepo backed by the given
// database connection (pool or transaction).
func NewPlanConfigRepo(db DBTX) *PlanConfigRepo {
	return &PlanConfigRepo{db: db}
}

const planColumns = `plan_code, display_name, free_minutes_monthly, hourly_rate,
	is_active, created_at, updated_at`

func scanPlanConfig(row pgx.Row) (*types.PlanConfig, error) {
	var pc types.PlanConfig
	err := row.Scan(
		&pc.Code,
		&pc.DisplayName,
		&pc.FreeMinutesMonthly,
		&pc.HourlyRate,
		&pc.IsActive,
		&pc.CreatedAt,
		&pc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// GetByCode retrieves a single catalog row. Returns ErrCodeNotFoundPlan if the
// code has never been configured.
func (r *PlanConfigRepo) GetByCode(ctx context.Context, code types.PlanCode) (*types.PlanConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+`
		 FROM plan_configs
		 WHERE plan_code = $1`,
		code,
	)
	pc, err := scanPlanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve plan config", err)
	}
	return pc, nil
}

// List returns the catalog ordered by plan code. When activeOnly is set,
// deactivated plans are excluded.
func (r *PlanConfigRepo) List(ctx context.Context, activeOnly bool) ([]*types.PlanConfig, error) {
	query := `SELECT ` + planColumns + ` FROM plan_configs`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY plan_code`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plan configs", err)
	}
	defer rows.Close()

	var results []*types.PlanConfig
	for rows.Next() {
		pc, scanErr := scanPlanConfig(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plan config row", scanErr)
		}
		results = append(results, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating plan config rows", err)
	}
	return results, nil
}

// Upsert creates or edits a catalog row in place. The plan code is the
// identity; display name, grant, rate and active flag are overwritten.
func (r *PlanConfigRepo) Upsert(ctx context.Context, pc *types.PlanConfig) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO plan_configs (plan_code, display_name, free_minutes_monthly, hourly_rate, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (plan_code)
		 DO UPDATE SET display_name = EXCLUDED.display_name,
		               free_minutes_monthly = EXCLUDED.free_minutes_monthly,
		               hourly_rate = EXCLUDED.hourly_rate,
		               is_active = EXCLUDED.is_active,
		               updated_at = NOW()`,
		pc.Code,
		pc.DisplayName,
		pc.FreeMinutesMonthly,
		pc.HourlyRate,
		pc.IsActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert plan config", err)
	}
	return nil
}

// Deactivate marks a plan as inactive without removing it; existing
// assignments and allowance snapshots keep referring to it.
func (r *PlanConfigRepo) Deactivate(ctx context.Context, code types.PlanCode) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE plan_configs SET is_active = FALSE, updated_at = NOW()
		 WHERE plan_code = $1`,
		code,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate plan config", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
	}
	return nil
}
