package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"taxledger/internal/types"
)

// ActiveTimerRepo provides data access for the active_timers table.
// The unique constraint on (client_id, advisor_user_id) is the exclusivity
// guarantee: a second concurrent start loses the insert race and surfaces a
// Conflict instead of silently overwriting the running timer.
type ActiveTimerRepo struct {
	db DBTX
}

// NewActiveTimerRepo creates a new ActiveTimerRepo backed by the given
// database connection (pool or transaction).
func NewActiveTimerRepo(db DBTX) *ActiveTimerRepo {
	return &ActiveTimerRepo{db: db}
}

const timerColumns = `id, client_id, advisor_user_id, started_at, task`

func scanTimer(row pgx.Row) (*types.ActiveTimer, error) {
	var t types.ActiveTimer
	var task *string
	err := row.Scan(&t.ID, &t.ClientID, &t.AdvisorUserID, &t.StartedAt, &task)
	if err != nil {
		return nil, err
	}
	if task != nil {
		t.Task = *task
	}
	return &t, nil
}

// Insert creates the running timer row. A unique violation on
// (client_id, advisor_user_id) is translated to ErrCodeConflictTimerRunning.
func (r *ActiveTimerRepo) Insert(ctx context.Context, t *types.ActiveTimer) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO active_timers (id, client_id, advisor_user_id, started_at, task)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID,
		t.ClientID,
		t.AdvisorUserID,
		t.StartedAt,
		nilIfEmpty(t.Task),
	)
	if err != nil {
		if isUniqueViolation(err, "active_timers_client_advisor") {
			return types.NewAppError(types.ErrCodeConflictTimerRunning, "a timer is already running for this client", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to start timer", err)
	}
	return nil
}

// Get returns the running timer for the (client, advisor) pair.
// Returns ErrCodeNotFoundTimer if none is running.
func (r *ActiveTimerRepo) Get(ctx context.Context, clientID, advisorUserID string) (*types.ActiveTimer, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+timerColumns+`
		 FROM active_timers
		 WHERE client_id = $1 AND advisor_user_id = $2`,
		clientID, advisorUserID,
	)
	t, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTimer, "no timer is running for this client", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve active timer", err)
	}
	return t, nil
}

// Delete removes the timer row by id. Deleting an already-removed timer is
// reported as not found so a concurrent double stop cannot both succeed.
func (r *ActiveTimerRepo) Delete(ctx context.Context, timerID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM active_timers WHERE id = $1`,
		timerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete active timer", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTimer, "active timer no longer exists", nil)
	}
	return nil
}

// nilIfEmpty maps an empty string to nil for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
