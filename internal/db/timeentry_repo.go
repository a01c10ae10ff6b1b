package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"taxledger/internal/types"
)

// TimeEntryRepo provides data access for the time_entries table.
// Inserts happen inside the recording transaction (ledger_tx.go) because the
// entry must be written atomically with the allowance consumption; this repo
// covers the read and soft-delete paths.
type TimeEntryRepo struct {
	db DBTX
}

// NewTimeEntryRepo creates a new TimeEntryRepo backed by the given database
// connection (pool or transaction).
func NewTimeEntryRepo(db DBTX) *TimeEntryRepo {
	return &TimeEntryRepo{db: db}
}

const entryColumns = `id, client_id, advisor_user_id, worked_at, minutes,
	free_minutes_consumed, billable_minutes, task, is_billable, source,
	created_at, deleted_at, deleted_by`

func scanTimeEntry(row pgx.Row) (*types.TimeEntry, error) {
	var te types.TimeEntry
	var task *string
	err := row.Scan(
		&te.ID,
		&te.ClientID,
		&te.AdvisorUserID,
		&te.WorkedAt,
		&te.Minutes,
		&te.FreeMinutesConsumed,
		&te.BillableMinutes,
		&task,
		&te.IsBillable,
		&te.Source,
		&te.CreatedAt,
		&te.DeletedAt,
		&te.DeletedBy,
	)
	if err != nil {
		return nil, err
	}
	if task != nil {
		te.Task = *task
	}
	return &te, nil
}

// GetByID retrieves a time entry scoped to the given client. Soft-deleted
// entries are still returned so callers can inspect the deletion flags.
func (r *TimeEntryRepo) GetByID(ctx context.Context, clientID, entryID string) (*types.TimeEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entryColumns+`
		 FROM time_entries
		 WHERE id = $1 AND client_id = $2`,
		entryID, clientID,
	)
	te, err := scanTimeEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTimeEntry, "time entry not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve time entry", err)
	}
	return te, nil
}

// ListForPeriod returns the non-deleted entries worked within
// [periodStart, periodEnd], newest first.
func (r *TimeEntryRepo) ListForPeriod(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]*types.TimeEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM time_entries
		 WHERE client_id = $1
		   AND worked_at >= $2
		   AND worked_at <= $3
		   AND deleted_at IS NULL
		 ORDER BY worked_at DESC, created_at DESC`,
		clientID, types.Midnight(periodStart), types.Midnight(periodEnd),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list time entries", err)
	}
	defer rows.Close()

	var results []*types.TimeEntry
	for rows.Next() {
		te, scanErr := scanTimeEntry(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan time entry row", scanErr)
		}
		results = append(results, te)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating time entry rows", err)
	}
	return results, nil
}

// SoftDelete flags an entry as deleted. Already-deleted entries are left
// untouched and reported as not found so a double delete cannot overwrite the
// original deletion audit fields. Allowance consumption is deliberately not
// reversed; the entry remains a ledger fact.
func (r *TimeEntryRepo) SoftDelete(ctx context.Context, clientID, entryID, deletedBy string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE time_entries SET
			deleted_at = NOW(),
			deleted_by = $1
		 WHERE id = $2 AND client_id = $3 AND deleted_at IS NULL`,
		deletedBy, entryID, clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to soft delete time entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTimeEntry, "time entry not found", nil)
	}
	return nil
}

// PeriodTotals aggregates non-deleted entries within [periodStart, periodEnd]:
// total recorded minutes, billable minutes, free minutes consumed, and the
// entry count.
func (r *TimeEntryRepo) PeriodTotals(ctx context.Context, clientID string, periodStart, periodEnd time.Time) (totalMinutes, billableMinutes, freeMinutes, entryCount int, err error) {
	scanErr := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(minutes), 0),
		        COALESCE(SUM(billable_minutes), 0),
		        COALESCE(SUM(free_minutes_consumed), 0),
		        COUNT(*)
		 FROM time_entries
		 WHERE client_id = $1
		   AND worked_at >= $2
		   AND worked_at <= $3
		   AND deleted_at IS NULL`,
		clientID, types.Midnight(periodStart), types.Midnight(periodEnd),
	).Scan(&totalMinutes, &billableMinutes, &freeMinutes, &entryCount)
	if scanErr != nil {
		return 0, 0, 0, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate time entries", scanErr)
	}
	return totalMinutes, billableMinutes, freeMinutes, entryCount, nil
}

// SumBillableMinutes returns the billable-minute total over non-deleted
// entries in [periodStart, periodEnd]. Used by invoice auto-calculation.
func (r *TimeEntryRepo) SumBillableMinutes(ctx context.Context, clientID string, periodStart, periodEnd time.Time) (int, error) {
	var sum int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(billable_minutes), 0)
		 FROM time_entries
		 WHERE client_id = $1
		   AND worked_at >= $2
		   AND worked_at <= $3
		   AND deleted_at IS NULL`,
		clientID, types.Midnight(periodStart), types.Midnight(periodEnd),
	).Scan(&sum)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sum billable minutes", err)
	}
	return sum, nil
}
