package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"taxledger/internal/core"
	"taxledger/internal/types"
)

// TimerService is the slice of the timer service the handler needs.
type TimerService interface {
	Start(ctx context.Context, clientID, advisorUserID, task string) (*types.ActiveTimer, error)
	Stop(ctx context.Context, clientID, advisorUserID, task string) (*types.TimeEntry, error)
	GetActive(ctx context.Context, clientID, advisorUserID string) (*types.ActiveTimer, error)
}

// StartTimerRequest is the request body for POST .../timer/start.
type StartTimerRequest struct {
	Task string `json:"task,omitempty"`
}

// StopTimerRequest is the request body for POST .../timer/stop. A task set
// here replaces the one captured at start on the recorded entry.
type StopTimerRequest struct {
	Task string `json:"task,omitempty"`
}

// TimerHandler serves the timer endpoints. The timer identity is the
// (client, acting advisor) pair; a second start for the same pair conflicts.
type TimerHandler struct {
	service TimerService
	logger  *slog.Logger
}

// NewTimerHandler creates a TimerHandler.
func NewTimerHandler(svc TimerService, l *slog.Logger) *TimerHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TimerHandler{
		service: svc,
		logger:  l,
	}
}

// RegisterRoutes mounts the timer endpoints.
func (h *TimerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clients/{clientID}/timer", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Get("/", h.GetActive)
	})
}

// Start handles POST /v1/clients/{clientID}/timer/start.
func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	advisorID, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req StartTimerRequest
	if r.ContentLength > 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	timer, err := h.service.Start(r.Context(), chi.URLParam(r, "clientID"), advisorID, req.Task)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: timer})
}

// Stop handles POST /v1/clients/{clientID}/timer/stop. The elapsed time is
// recorded as a billable entry and the timer removed.
func (h *TimerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	advisorID, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req StopTimerRequest
	if r.ContentLength > 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	entry, err := h.service.Stop(r.Context(), chi.URLParam(r, "clientID"), advisorID, req.Task)
	if err != nil {
		// The entry is non-nil when it was recorded but the timer removal
		// failed; surface the failure, the client should not retry the stop
		// blindly.
		if entry != nil {
			h.logger.ErrorContext(r.Context(), "timer stop recorded entry but failed cleanup",
				"entry_id", entry.ID,
				"error", err,
			)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: entry})
}

// GetActive handles GET /v1/clients/{clientID}/timer.
func (h *TimerHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	advisorID, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	timer, err := h.service.GetActive(r.Context(), chi.URLParam(r, "clientID"), advisorID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: timer})
}
