// Package ledger implements the time and billing domain services: time
// recording against the monthly free-minute allowance, plan assignment,
// timers, and the invoice lifecycle.
//
// The recording path is the contended one. All coordination is delegated to
// the store's transaction and locking primitives; the services hold no
// cross-request mutable state, so they are safe under horizontal scaling.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taxledger/internal/types"
)

// RecordStore opens the atomic unit the recording algorithm runs in.
type RecordStore interface {
	// Begin starts a new database transaction. The returned RecordTx must be
	// committed or rolled back by the caller.
	Begin(ctx context.Context) (RecordTx, error)
}

// RecordTx defines the transactional operations for recording one time entry.
// All methods operate within the transaction started by RecordStore.Begin.
//
// The transactional flow is:
//  1. LockAllowance acquires a FOR UPDATE lock on the client's allowance row
//     for the period, serializing concurrent recordings for the same month.
//  2. If the row does not exist yet, PlanActiveAt resolves the grant to
//     snapshot and InsertAllowance creates it (a lost creation race surfaces
//     as a retryable conflict).
//  3. AddAllowanceUsage increments the consumed counter; the statement is
//     guarded so consumption can never overshoot the grant.
//  4. InsertTimeEntry persists the entry with its free/billable split.
//  5. Commit / Rollback finalizes the unit; nothing is observable before commit.
type RecordTx interface {
	// LockAllowance returns the allowance row for (clientID, periodStart)
	// locked for update, or nil if no row exists yet.
	LockAllowance(ctx context.Context, clientID string, periodStart time.Time) (*types.MonthlyAllowance, error)

	// InsertAllowance creates the allowance row. A concurrent creation race
	// is reported as ErrCodeConflictConcurrent so the caller retries from a
	// fresh read.
	InsertAllowance(ctx context.Context, allowance *types.MonthlyAllowance) error

	// AddAllowanceUsage increments free_minutes_used by minutes, guarded so
	// the committed value never exceeds free_minutes_total.
	AddAllowanceUsage(ctx context.Context, clientID string, periodStart time.Time, minutes int) error

	// InsertTimeEntry persists the entry within the same atomic unit.
	InsertTimeEntry(ctx context.Context, entry *types.TimeEntry) error

	// PlanActiveAt resolves the plan config assigned to the client on the
	// given date. Returns (nil, nil) when the client has no active plan.
	PlanActiveAt(ctx context.Context, clientID string, at time.Time) (*types.PlanConfig, error)

	// Commit commits the transaction.
	Commit(ctx context.Context) error

	// Rollback rolls back the transaction. Safe to call after Commit (no-op).
	Rollback(ctx context.Context) error
}

// RecordReadStore covers the non-transactional read and correction paths of
// the time entry store.
type RecordReadStore interface {
	// GetAllowance returns the allowance row, or nil if it has not been
	// created yet.
	GetAllowance(ctx context.Context, clientID string, periodStart time.Time) (*types.MonthlyAllowance, error)

	// PlanActiveAt resolves the plan assigned to the client on the given
	// date. Returns (nil, nil) when the client has no active plan.
	PlanActiveAt(ctx context.Context, clientID string, at time.Time) (*types.PlanConfig, error)

	// PeriodTotals aggregates non-deleted entries in the period.
	PeriodTotals(ctx context.Context, clientID string, periodStart, periodEnd time.Time) (totalMinutes, billableMinutes, freeMinutes, entryCount int, err error)

	// SoftDeleteEntry flags an entry as deleted.
	SoftDeleteEntry(ctx context.Context, clientID, entryID, deletedBy string) error
}

// DefaultRecordAttempts bounds the internal retry loop on contended writes
// before the failure is surfaced as ErrCodeInternalContention.
const DefaultRecordAttempts = 3

// RecordParams are the inputs to TimeRecorder.Record.
type RecordParams struct {
	ClientID      string
	AdvisorUserID string
	WorkedAt      time.Time
	Minutes       int
	Task          string
	IsBillable    bool
	Source        types.EntrySource
}

// TimeRecorder implements time entry recording and the monthly summary reads.
type TimeRecorder struct {
	store       RecordStore
	reads       RecordReadStore
	logger      *slog.Logger
	maxAttempts int
}

// NewTimeRecorder creates a TimeRecorder. attempts <= 0 falls back to
// DefaultRecordAttempts.
func NewTimeRecorder(store RecordStore, reads RecordReadStore, logger *slog.Logger, attempts int) *TimeRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts <= 0 {
		attempts = DefaultRecordAttempts
	}
	return &TimeRecorder{
		store:       store,
		reads:       reads,
		logger:      logger,
		maxAttempts: attempts,
	}
}

// Record persists one unit of advisor work, splitting its minutes into free
// (drawn from the monthly allowance) and billable within a single atomic
// unit. For any set of concurrent calls against the same client and month,
// the committed free_minutes_used equals the sum of each call's draw; the
// allowance is never double-spent.
//
// A conflict-driven commit failure is retried from a fresh read up to the
// configured attempt budget; exhaustion surfaces ErrCodeInternalContention.
func (s *TimeRecorder) Record(ctx context.Context, p RecordParams) (*types.TimeEntry, error) {
	if p.Minutes <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidMinutes, "minutes must be positive", nil)
	}
	if p.ClientID == "" || p.AdvisorUserID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and advisor are required", nil)
	}
	if p.WorkedAt.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidDate, "worked_at is required", nil)
	}
	if p.Source == "" {
		p.Source = types.SourceManual
	}

	periodStart := types.PeriodStartOf(p.WorkedAt)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		entry, err := s.recordOnce(ctx, p, periodStart)
		if err == nil {
			return entry, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "time entry recording lost a write race, retrying",
			"client_id", p.ClientID,
			"period_start", periodStart.Format("2006-01-02"),
			"attempt", attempt,
		)
	}

	return nil, types.NewAppError(types.ErrCodeInternalContention,
		"allowance write kept losing races after retries", lastErr)
}

// recordOnce runs one attempt of the recording algorithm in its own
// transaction.
func (s *TimeRecorder) recordOnce(ctx context.Context, p RecordParams, periodStart time.Time) (*types.TimeEntry, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin recording transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	allowance, err := tx.LockAllowance(ctx, p.ClientID, periodStart)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		allowance, err = s.createAllowance(ctx, tx, p.ClientID, periodStart)
		if err != nil {
			return nil, err
		}
	}

	remaining := allowance.Remaining()
	freeDraw := p.Minutes
	if freeDraw > remaining {
		freeDraw = remaining
	}
	billable := p.Minutes - freeDraw

	if freeDraw > 0 {
		if err := tx.AddAllowanceUsage(ctx, p.ClientID, periodStart, freeDraw); err != nil {
			return nil, err
		}
	}

	entry := &types.TimeEntry{
		ID:                  types.NewID(types.IDPrefixTimeEntry),
		ClientID:            p.ClientID,
		AdvisorUserID:       p.AdvisorUserID,
		WorkedAt:            types.Midnight(p.WorkedAt),
		Minutes:             p.Minutes,
		FreeMinutesConsumed: freeDraw,
		BillableMinutes:     billable,
		Task:                p.Task,
		IsBillable:          p.IsBillable,
		Source:              p.Source,
	}
	if err := tx.InsertTimeEntry(ctx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// createAllowance lazily creates the allowance row for the period,
// snapshotting the grant from the plan active at period start. No active
// plan means a zero grant under the NONE code.
func (s *TimeRecorder) createAllowance(ctx context.Context, tx RecordTx, clientID string, periodStart time.Time) (*types.MonthlyAllowance, error) {
	plan, err := tx.PlanActiveAt(ctx, clientID, periodStart)
	if err != nil {
		return nil, err
	}

	allowance := &types.MonthlyAllowance{
		ClientID:    clientID,
		PeriodStart: periodStart,
		PlanCode:    types.PlanNone,
	}
	if plan != nil {
		allowance.PlanCode = plan.Code
		allowance.FreeMinutesTotal = plan.FreeMinutesMonthly
	}

	if err := tx.InsertAllowance(ctx, allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// MonthlySummary combines the (possibly not-yet-created) allowance row with
// an aggregate over the period's non-deleted entries. When no allowance row
// exists, the grant is resolved the same way Record would resolve it, without
// creating the row.
func (s *TimeRecorder) MonthlySummary(ctx context.Context, clientID string, anyDayInMonth time.Time) (*types.MonthlySummary, error) {
	if clientID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client is required", nil)
	}
	periodStart := types.PeriodStartOf(anyDayInMonth)
	periodEnd := types.PeriodEndOf(anyDayInMonth)

	summary := &types.MonthlySummary{
		ClientID:    clientID,
		PeriodStart: periodStart,
		PlanCode:    types.PlanNone,
	}

	allowance, err := s.reads.GetAllowance(ctx, clientID, periodStart)
	if err != nil {
		return nil, err
	}
	if allowance != nil {
		summary.PlanCode = allowance.PlanCode
		summary.FreeMinutesTotal = allowance.FreeMinutesTotal
		summary.FreeMinutesUsed = allowance.FreeMinutesUsed
	} else {
		plan, err := s.reads.PlanActiveAt(ctx, clientID, periodStart)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			summary.PlanCode = plan.Code
			summary.FreeMinutesTotal = plan.FreeMinutesMonthly
		}
	}
	summary.FreeMinutesRemaining = summary.FreeMinutesTotal - summary.FreeMinutesUsed
	if summary.FreeMinutesRemaining < 0 {
		summary.FreeMinutesRemaining = 0
	}

	total, billable, _, count, err := s.reads.PeriodTotals(ctx, clientID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	summary.TotalMinutes = total
	summary.BillableMinutes = billable
	summary.EntryCount = count

	return summary, nil
}

// SoftDelete flags an entry as deleted. The allowance consumption already
// recorded for the entry is NOT reversed: ledger entries are point-in-time
// facts and deletion is a correction flag, not a reversal.
func (s *TimeRecorder) SoftDelete(ctx context.Context, clientID, entryID, actor string) error {
	if clientID == "" || entryID == "" || actor == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "client, entry and actor are required", nil)
	}
	return s.reads.SoftDeleteEntry(ctx, clientID, entryID, actor)
}

// isRetryableConflict reports whether err is a lost write race the recording
// loop should re-attempt from a fresh read. The store layer reports these as
// ErrCodeConflictConcurrent.
func isRetryableConflict(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictConcurrent
}
