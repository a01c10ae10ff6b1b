// Package handlers contains the HTTP handler implementations for the time
// and billing ledger API.
//
// Authentication happens upstream at the portal gateway; the verified acting
// user's ID arrives in the X-User-Id header and handlers treat it as
// trusted. Service contracts are defined locally per handler file and
// injected via the constructor so tests can mock them.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"taxledger/internal/core"
	"taxledger/internal/ledger"
	"taxledger/internal/types"
)

// actingUserHeader carries the gateway-verified user ID.
const actingUserHeader = "X-User-Id"

// actingUser extracts the acting user's ID from the request, or returns a
// validation error when the gateway header is absent.
func actingUser(r *http.Request) (string, error) {
	id := r.Header.Get(actingUserHeader)
	if id == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "acting user header is required", nil)
	}
	return id, nil
}

// parseMonth parses a YYYY-MM query value into the first day of that month.
// An empty value defaults to the current month.
func parseMonth(value string) (time.Time, error) {
	if value == "" {
		return types.PeriodStartOf(time.Now().UTC()), nil
	}
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidPeriod, "month must be formatted as YYYY-MM", err)
	}
	return types.PeriodStartOf(t), nil
}

// TimeEntryService is the slice of the recording service the handler needs.
type TimeEntryService interface {
	Record(ctx context.Context, p ledger.RecordParams) (*types.TimeEntry, error)
	MonthlySummary(ctx context.Context, clientID string, anyDayInMonth time.Time) (*types.MonthlySummary, error)
	SoftDelete(ctx context.Context, clientID, entryID, actor string) error
}

// TimeEntryLister reads entries for a period.
type TimeEntryLister interface {
	ListForPeriod(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]*types.TimeEntry, error)
}

// RecordEntryRequest is the request body for POST /v1/clients/{clientID}/time-entries.
type RecordEntryRequest struct {
	WorkedAt   string `json:"worked_at" validate:"required"`
	Minutes    int    `json:"minutes" validate:"required"`
	Task       string `json:"task,omitempty"`
	IsBillable *bool  `json:"is_billable,omitempty"`
}

// TimeEntryHandler serves the time entry endpoints.
type TimeEntryHandler struct {
	service   TimeEntryService
	entries   TimeEntryLister
	validator *core.Validator
	logger    *slog.Logger
}

// NewTimeEntryHandler creates a TimeEntryHandler.
func NewTimeEntryHandler(svc TimeEntryService, entries TimeEntryLister, v *core.Validator, l *slog.Logger) *TimeEntryHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TimeEntryHandler{
		service:   svc,
		entries:   entries,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the time entry endpoints.
func (h *TimeEntryHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clients/{clientID}", func(r chi.Router) {
		r.Post("/time-entries", h.Record)
		r.Get("/time-entries", h.List)
		r.Delete("/time-entries/{entryID}", h.Delete)
		r.Get("/summary", h.Summary)
	})
}

// Record handles POST /v1/clients/{clientID}/time-entries.
func (h *TimeEntryHandler) Record(w http.ResponseWriter, r *http.Request) {
	advisorID, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req RecordEntryRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	workedAt, err := time.Parse("2006-01-02", req.WorkedAt)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "worked_at must be formatted as YYYY-MM-DD", err))
		return
	}

	isBillable := true
	if req.IsBillable != nil {
		isBillable = *req.IsBillable
	}

	entry, err := h.service.Record(r.Context(), ledger.RecordParams{
		ClientID:      chi.URLParam(r, "clientID"),
		AdvisorUserID: advisorID,
		WorkedAt:      workedAt,
		Minutes:       req.Minutes,
		Task:          req.Task,
		IsBillable:    isBillable,
		Source:        types.SourceManual,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: entry})
}

// List handles GET /v1/clients/{clientID}/time-entries?month=YYYY-MM.
func (h *TimeEntryHandler) List(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(r.URL.Query().Get("month"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	clientID := chi.URLParam(r, "clientID")
	entries, err := h.entries.ListForPeriod(r.Context(), clientID, month, types.PeriodEndOf(month))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if entries == nil {
		entries = []*types.TimeEntry{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: entries})
}

// Delete handles DELETE /v1/clients/{clientID}/time-entries/{entryID}.
// The entry is soft-deleted; its allowance consumption stays spent.
func (h *TimeEntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	clientID := chi.URLParam(r, "clientID")
	entryID := chi.URLParam(r, "entryID")
	if err := h.service.SoftDelete(r.Context(), clientID, entryID, actor); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /v1/clients/{clientID}/summary?month=YYYY-MM.
func (h *TimeEntryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(r.URL.Query().Get("month"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	summary, err := h.service.MonthlySummary(r.Context(), chi.URLParam(r, "clientID"), month)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}
