package ledger

import (
	"context"
	"log/slog"
	"time"

	"taxledger/internal/types"
)

// MaxRetroactiveDays bounds how far in the past a plan assignment may take
// effect. Older backdating would silently rewrite allowance history.
const MaxRetroactiveDays = 7

// PlanCatalogStore is the persistence surface for the plan catalog.
type PlanCatalogStore interface {
	GetByCode(ctx context.Context, code types.PlanCode) (*types.PlanConfig, error)
	List(ctx context.Context, activeOnly bool) ([]*types.PlanConfig, error)
	Upsert(ctx context.Context, plan *types.PlanConfig) error
	Deactivate(ctx context.Context, code types.PlanCode) error
}

// AssignStore opens the atomic unit a plan reassignment runs in.
type AssignStore interface {
	Begin(ctx context.Context) (AssignTx, error)
}

// AssignTx defines the transactional operations for one plan reassignment.
// The close-then-insert sequence must be atomic so no observer ever sees a
// client with two open-ended assignments, or none mid-switch.
type AssignTx interface {
	// PlanByCode returns the catalog row, or nil if the code is unknown.
	PlanByCode(ctx context.Context, code types.PlanCode) (*types.PlanConfig, error)

	// ActiveAssignmentForUpdate returns the client's open-ended assignment
	// locked for update, or nil if the client has no plan yet.
	ActiveAssignmentForUpdate(ctx context.Context, clientID string) (*types.PlanAssignment, error)

	// CloseAssignment stamps effective_to on a previously open-ended row.
	CloseAssignment(ctx context.Context, assignmentID string, effectiveTo time.Time) error

	// InsertAssignment creates the new open-ended row. Losing the race for
	// the single-active-row index is reported as ErrCodeConflictConcurrent.
	InsertAssignment(ctx context.Context, assignment *types.PlanAssignment) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// AssignmentReadStore covers the non-transactional assignment reads.
type AssignmentReadStore interface {
	// GetCurrent returns the assignment covering asOf, or nil if none.
	GetCurrent(ctx context.Context, clientID string, asOf time.Time) (*types.PlanAssignment, error)
	ListHistory(ctx context.Context, clientID string) ([]*types.PlanAssignment, error)
}

// AssignParams are the inputs to PlanService.AssignPlan.
type AssignParams struct {
	ClientID   string
	PlanCode   types.PlanCode
	AssignedBy string
	// EffectiveFrom defaults to today when zero.
	EffectiveFrom time.Time
}

// PlanService implements the plan catalog and the temporal assignment ledger.
type PlanService struct {
	catalog     PlanCatalogStore
	store       AssignStore
	reads       AssignmentReadStore
	logger      *slog.Logger
	maxAttempts int
	nowFn       func() time.Time
}

// NewPlanService creates a PlanService.
func NewPlanService(catalog PlanCatalogStore, store AssignStore, reads AssignmentReadStore, logger *slog.Logger) *PlanService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanService{
		catalog:     catalog,
		store:       store,
		reads:       reads,
		logger:      logger,
		maxAttempts: DefaultRecordAttempts,
		nowFn:       time.Now,
	}
}

// ListPlans returns catalog rows, optionally only the active ones.
func (s *PlanService) ListPlans(ctx context.Context, activeOnly bool) ([]*types.PlanConfig, error) {
	return s.catalog.List(ctx, activeOnly)
}

// GetPlan returns one catalog row by code.
func (s *PlanService) GetPlan(ctx context.Context, code types.PlanCode) (*types.PlanConfig, error) {
	return s.catalog.GetByCode(ctx, code)
}

// UpsertPlan creates or updates a catalog row. Rate changes apply to future
// billing only; existing allowance snapshots keep the values they were
// created with.
func (s *PlanService) UpsertPlan(ctx context.Context, plan *types.PlanConfig) error {
	if plan.Code == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "plan code is required", nil)
	}
	if plan.FreeMinutesMonthly < 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidMinutes, "free minutes must not be negative", nil)
	}
	if plan.HourlyRate.IsNegative() {
		return types.NewAppError(types.ErrCodeValidationInvalidRate, "hourly rate must not be negative", nil)
	}
	return s.catalog.Upsert(ctx, plan)
}

// DeactivatePlan hides a plan from new assignments. Clients already on the
// plan are unaffected.
func (s *PlanService) DeactivatePlan(ctx context.Context, code types.PlanCode) error {
	return s.catalog.Deactivate(ctx, code)
}

// AssignPlan switches a client to a new plan. The currently active
// assignment (if any) is closed the day before the new effective date and
// the new open-ended row inserted, atomically. History rows are never
// rewritten.
//
// Allowance snapshots for months that already have a row are not touched;
// the new plan's grant applies from the next month the client records time
// in (or the assignment month itself if no allowance row exists yet).
func (s *PlanService) AssignPlan(ctx context.Context, p AssignParams) (*types.PlanChange, error) {
	if p.ClientID == "" || p.AssignedBy == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and assigning user are required", nil)
	}
	if p.PlanCode == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "plan code is required", nil)
	}

	today := types.Midnight(s.nowFn())
	effectiveFrom := today
	if !p.EffectiveFrom.IsZero() {
		effectiveFrom = types.Midnight(p.EffectiveFrom)
	}
	if effectiveFrom.Before(today.AddDate(0, 0, -MaxRetroactiveDays)) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationRetroactive,
			"effective date is too far in the past", nil,
			map[string]any{"max_days": MaxRetroactiveDays})
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		change, err := s.assignOnce(ctx, p, effectiveFrom)
		if err == nil {
			return change, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "plan assignment lost a write race, retrying",
			"client_id", p.ClientID,
			"plan_code", string(p.PlanCode),
			"attempt", attempt,
		)
	}
	return nil, types.NewAppError(types.ErrCodeInternalContention,
		"plan assignment kept losing races after retries", lastErr)
}

func (s *PlanService) assignOnce(ctx context.Context, p AssignParams, effectiveFrom time.Time) (*types.PlanChange, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin assignment transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	plan, err := tx.PlanByCode(ctx, p.PlanCode)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan does not exist or is not assignable", nil)
	}

	change := &types.PlanChange{}

	current, err := tx.ActiveAssignmentForUpdate(ctx, p.ClientID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if !types.Midnight(current.EffectiveFrom).Before(effectiveFrom) {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidDate,
				"effective date must be after the current assignment's start", nil)
		}
		closedTo := effectiveFrom.AddDate(0, 0, -1)
		if err := tx.CloseAssignment(ctx, current.ID, closedTo); err != nil {
			return nil, err
		}
		closed := *current
		closed.EffectiveTo = &closedTo
		change.PreviousPlan = &closed
	}

	next := &types.PlanAssignment{
		ID:            types.NewID(types.IDPrefixAssignment),
		ClientID:      p.ClientID,
		PlanCode:      p.PlanCode,
		EffectiveFrom: effectiveFrom,
		AssignedBy:    p.AssignedBy,
	}
	if err := tx.InsertAssignment(ctx, next); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	change.NewPlan = next

	s.logger.InfoContext(ctx, "plan assigned",
		"client_id", p.ClientID,
		"plan_code", string(p.PlanCode),
		"effective_from", effectiveFrom.Format("2006-01-02"),
	)
	return change, nil
}

// GetCurrentPlan resolves the assignment covering asOf (today when zero)
// together with its catalog row. Returns a nil change and plan when the
// client has no plan on that date.
func (s *PlanService) GetCurrentPlan(ctx context.Context, clientID string, asOf time.Time) (*types.PlanAssignment, *types.PlanConfig, error) {
	if clientID == "" {
		return nil, nil, types.NewAppError(types.ErrCodeValidationMissingField, "client is required", nil)
	}
	if asOf.IsZero() {
		asOf = s.nowFn()
	}
	assignment, err := s.reads.GetCurrent(ctx, clientID, asOf)
	if err != nil {
		return nil, nil, err
	}
	if assignment == nil {
		return nil, nil, nil
	}
	plan, err := s.catalog.GetByCode(ctx, assignment.PlanCode)
	if err != nil {
		return nil, nil, err
	}
	return assignment, plan, nil
}

// ListPlanHistory returns a client's full assignment history, newest first.
func (s *PlanService) ListPlanHistory(ctx context.Context, clientID string) ([]*types.PlanAssignment, error) {
	if clientID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client is required", nil)
	}
	return s.reads.ListHistory(ctx, clientID)
}
