package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"taxledger/internal/core"
	"taxledger/internal/ledger"
	"taxledger/internal/types"
)

// PlanService is the slice of the plan service the handler needs.
type PlanService interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]*types.PlanConfig, error)
	GetPlan(ctx context.Context, code types.PlanCode) (*types.PlanConfig, error)
	UpsertPlan(ctx context.Context, plan *types.PlanConfig) error
	DeactivatePlan(ctx context.Context, code types.PlanCode) error
	AssignPlan(ctx context.Context, p ledger.AssignParams) (*types.PlanChange, error)
	GetCurrentPlan(ctx context.Context, clientID string, asOf time.Time) (*types.PlanAssignment, *types.PlanConfig, error)
	ListPlanHistory(ctx context.Context, clientID string) ([]*types.PlanAssignment, error)
}

// UpsertPlanRequest is the request body for PUT /v1/plans/{code}.
type UpsertPlanRequest struct {
	DisplayName        string          `json:"display_name" validate:"required"`
	FreeMinutesMonthly int             `json:"free_minutes_monthly" validate:"gte=0"`
	HourlyRate         decimal.Decimal `json:"hourly_rate"`
	IsActive           *bool           `json:"is_active,omitempty"`
}

// AssignPlanRequest is the request body for POST /v1/clients/{clientID}/plan.
type AssignPlanRequest struct {
	PlanCode      string `json:"plan_code" validate:"required"`
	EffectiveFrom string `json:"effective_from,omitempty"`
}

// CurrentPlanResponse pairs the assignment covering a date with its catalog
// row.
type CurrentPlanResponse struct {
	Assignment *types.PlanAssignment `json:"assignment"`
	Plan       *types.PlanConfig     `json:"plan"`
}

// PlanHandler serves the plan catalog and assignment endpoints.
type PlanHandler struct {
	service   PlanService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(svc PlanService, v *core.Validator, l *slog.Logger) *PlanHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PlanHandler{
		service:   svc,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the plan endpoints.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Route("/plans", func(r chi.Router) {
		r.Get("/", h.ListPlans)
		r.Get("/{code}", h.GetPlan)
		r.Put("/{code}", h.UpsertPlan)
		r.Delete("/{code}", h.DeactivatePlan)
	})
	r.Route("/clients/{clientID}/plan", func(r chi.Router) {
		r.Post("/", h.AssignPlan)
		r.Get("/", h.GetCurrentPlan)
		r.Get("/history", h.ListHistory)
	})
}

// ListPlans handles GET /v1/plans?active=true.
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	plans, err := h.service.ListPlans(r.Context(), activeOnly)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if plans == nil {
		plans = []*types.PlanConfig{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plans})
}

// GetPlan handles GET /v1/plans/{code}.
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.GetPlan(r.Context(), types.PlanCode(chi.URLParam(r, "code")))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plan})
}

// UpsertPlan handles PUT /v1/plans/{code}. Creating and editing share the
// same endpoint; edits apply to future billing only.
func (h *PlanHandler) UpsertPlan(w http.ResponseWriter, r *http.Request) {
	var req UpsertPlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	plan := &types.PlanConfig{
		Code:               types.PlanCode(chi.URLParam(r, "code")),
		DisplayName:        req.DisplayName,
		FreeMinutesMonthly: req.FreeMinutesMonthly,
		HourlyRate:         req.HourlyRate,
		IsActive:           isActive,
	}
	if err := h.service.UpsertPlan(r.Context(), plan); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plan})
}

// DeactivatePlan handles DELETE /v1/plans/{code}. The plan stays in the
// catalog for history but cannot be assigned anymore.
func (h *PlanHandler) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivatePlan(r.Context(), types.PlanCode(chi.URLParam(r, "code"))); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignPlan handles POST /v1/clients/{clientID}/plan.
func (h *PlanHandler) AssignPlan(w http.ResponseWriter, r *http.Request) {
	assignedBy, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req AssignPlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	params := ledger.AssignParams{
		ClientID:   chi.URLParam(r, "clientID"),
		PlanCode:   types.PlanCode(req.PlanCode),
		AssignedBy: assignedBy,
	}
	if req.EffectiveFrom != "" {
		from, parseErr := time.Parse("2006-01-02", req.EffectiveFrom)
		if parseErr != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "effective_from must be formatted as YYYY-MM-DD", parseErr))
			return
		}
		params.EffectiveFrom = from
	}

	change, err := h.service.AssignPlan(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: change})
}

// GetCurrentPlan handles GET /v1/clients/{clientID}/plan?as_of=YYYY-MM-DD.
// A client without a plan on the date gets a null assignment, not a 404.
func (h *PlanHandler) GetCurrentPlan(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "as_of must be formatted as YYYY-MM-DD", err))
			return
		}
		asOf = parsed
	}

	assignment, plan, err := h.service.GetCurrentPlan(r.Context(), chi.URLParam(r, "clientID"), asOf)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CurrentPlanResponse{
		Assignment: assignment,
		Plan:       plan,
	}})
}

// ListHistory handles GET /v1/clients/{clientID}/plan/history.
func (h *PlanHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.ListPlanHistory(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if history == nil {
		history = []*types.PlanAssignment{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: history})
}
