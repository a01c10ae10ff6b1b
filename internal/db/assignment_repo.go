package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"taxledger/internal/types"
)

// PlanAssignmentRepo provides read access for the client_plans table.
// Writes (close-then-insert) happen inside the AssignLedger transaction in
// ledger_tx.go because they must be atomic with the active-row lookup.
type PlanAssignmentRepo struct {
	db DBTX
}

// NewPlanAssignmentRepo creates a new PlanAssignmentRepo backed by the given
// database connection (pool or transaction).
func NewPlanAssignmentRepo(db DBTX) *PlanAssignmentRepo {
	return &PlanAssignmentRepo{db: db}
}

const assignmentColumns = `id, client_id, plan_code, effective_from, effective_to,
	assigned_by, created_at`

func scanAssignment(row pgx.Row) (*types.PlanAssignment, error) {
	var pa types.PlanAssignment
	err := row.Scan(
		&pa.ID,
		&pa.ClientID,
		&pa.PlanCode,
		&pa.EffectiveFrom,
		&pa.EffectiveTo,
		&pa.AssignedBy,
		&pa.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pa, nil
}

// GetCurrent returns the assignment whose interval contains asOf, or nil if
// the client had no plan on that date. At most one row can match because
// assignment intervals never overlap.
func (r *PlanAssignmentRepo) GetCurrent(ctx context.Context, clientID string, asOf time.Time) (*types.PlanAssignment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM client_plans
		 WHERE client_id = $1
		   AND effective_from <= $2
		   AND (effective_to IS NULL OR effective_to >= $2)`,
		clientID, types.Midnight(asOf),
	)
	pa, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve current plan assignment", err)
	}
	return pa, nil
}

// ListHistory returns all assignments for a client, newest interval first.
func (r *PlanAssignmentRepo) ListHistory(ctx context.Context, clientID string) ([]*types.PlanAssignment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+assignmentColumns+`
		 FROM client_plans
		 WHERE client_id = $1
		 ORDER BY effective_from DESC`,
		clientID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plan assignments", err)
	}
	defer rows.Close()

	var results []*types.PlanAssignment
	for rows.Next() {
		pa, scanErr := scanAssignment(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plan assignment row", scanErr)
		}
		results = append(results, pa)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating plan assignment rows", err)
	}
	return results, nil
}
