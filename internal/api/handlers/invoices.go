package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"taxledger/internal/core"
	"taxledger/internal/ledger"
	"taxledger/internal/types"
)

// InvoiceService is the slice of the invoice service the handler needs.
type InvoiceService interface {
	Create(ctx context.Context, p ledger.CreateInvoiceParams) (*types.Invoice, error)
	Get(ctx context.Context, clientID, invoiceID string) (*types.Invoice, error)
	List(ctx context.Context, clientID string, status types.InvoiceStatus, limit int) ([]*types.Invoice, error)
	SubmitProof(ctx context.Context, clientID, invoiceID, documentID string) (*types.Invoice, error)
	Review(ctx context.Context, p ledger.ReviewParams) (*types.Invoice, error)
	MarkPaid(ctx context.Context, clientID, invoiceID string, details types.PaymentDetails) (*types.Invoice, error)
	AttachDocument(ctx context.Context, clientID, invoiceID string, kind types.InvoiceDocumentKind, documentID string) error
}

// CreateInvoiceRequest is the request body for POST .../invoices.
// Either auto_calculate prices the period from recorded billable minutes, or
// amount_total is taken as given.
type CreateInvoiceRequest struct {
	PeriodStart   string           `json:"period_start" validate:"required"`
	PeriodEnd     string           `json:"period_end" validate:"required"`
	DueDate       string           `json:"due_date,omitempty"`
	AmountTotal   *decimal.Decimal `json:"amount_total,omitempty"`
	AutoCalculate bool             `json:"auto_calculate,omitempty"`
}

// SubmitProofRequest is the request body for POST .../invoices/{id}/proof.
type SubmitProofRequest struct {
	DocumentID string `json:"document_id" validate:"required"`
}

// ReviewInvoiceRequest is the request body for POST .../invoices/{id}/review.
type ReviewInvoiceRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve cancel"`
	Note     string `json:"note,omitempty"`
}

// MarkPaidRequest is the request body for POST .../invoices/{id}/mark-paid.
type MarkPaidRequest struct {
	Method string `json:"method" validate:"required"`
	PaidAt string `json:"paid_at,omitempty"`
	Note   string `json:"note,omitempty"`
}

// AttachDocumentRequest is the request body for POST .../invoices/{id}/document.
type AttachDocumentRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=invoice proof"`
	DocumentID string `json:"document_id" validate:"required"`
}

// InvoiceHandler serves the invoice lifecycle endpoints.
type InvoiceHandler struct {
	service   InvoiceService
	validator *core.Validator
	logger    *slog.Logger
}

// NewInvoiceHandler creates an InvoiceHandler.
func NewInvoiceHandler(svc InvoiceService, v *core.Validator, l *slog.Logger) *InvoiceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &InvoiceHandler{
		service:   svc,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the invoice endpoints.
func (h *InvoiceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clients/{clientID}/invoices", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{invoiceID}", h.Get)
		r.Post("/{invoiceID}/proof", h.SubmitProof)
		r.Post("/{invoiceID}/review", h.Review)
		r.Post("/{invoiceID}/mark-paid", h.MarkPaid)
		r.Post("/{invoiceID}/document", h.AttachDocument)
	})
}

// Create handles POST /v1/clients/{clientID}/invoices.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	periodStart, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPeriod, "period_start must be formatted as YYYY-MM-DD", err))
		return
	}
	periodEnd, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPeriod, "period_end must be formatted as YYYY-MM-DD", err))
		return
	}

	params := ledger.CreateInvoiceParams{
		ClientID:      chi.URLParam(r, "clientID"),
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		AutoCalculate: req.AutoCalculate,
	}
	if req.DueDate != "" {
		due, parseErr := time.Parse("2006-01-02", req.DueDate)
		if parseErr != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "due_date must be formatted as YYYY-MM-DD", parseErr))
			return
		}
		params.DueDate = &due
	}
	if !req.AutoCalculate {
		if req.AmountTotal == nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "amount_total is required unless auto_calculate is set", nil))
			return
		}
		params.AmountTotal = *req.AmountTotal
	}

	inv, err := h.service.Create(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: inv})
}

// List handles GET /v1/clients/{clientID}/invoices?status=OPEN&limit=50.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidAmount, "limit must be a non-negative integer", err))
			return
		}
		limit = parsed
	}

	status := types.InvoiceStatus(r.URL.Query().Get("status"))
	invoices, err := h.service.List(r.Context(), chi.URLParam(r, "clientID"), status, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*types.Invoice{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: invoices})
}

// Get handles GET /v1/clients/{clientID}/invoices/{invoiceID}.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.Get(r.Context(), chi.URLParam(r, "clientID"), chi.URLParam(r, "invoiceID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: inv})
}

// SubmitProof handles POST /v1/clients/{clientID}/invoices/{invoiceID}/proof.
func (h *InvoiceHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req SubmitProofRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	inv, err := h.service.SubmitProof(r.Context(), chi.URLParam(r, "clientID"), chi.URLParam(r, "invoiceID"), req.DocumentID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: inv})
}

// Review handles POST /v1/clients/{clientID}/invoices/{invoiceID}/review.
func (h *InvoiceHandler) Review(w http.ResponseWriter, r *http.Request) {
	reviewer, err := actingUser(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req ReviewInvoiceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	inv, err := h.service.Review(r.Context(), ledger.ReviewParams{
		ClientID:   chi.URLParam(r, "clientID"),
		InvoiceID:  chi.URLParam(r, "invoiceID"),
		Decision:   types.ReviewDecision(req.Decision),
		ReviewedBy: reviewer,
		Note:       req.Note,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: inv})
}

// MarkPaid handles POST /v1/clients/{clientID}/invoices/{invoiceID}/mark-paid.
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	details := types.PaymentDetails{
		Method: req.Method,
		Note:   req.Note,
	}
	if req.PaidAt != "" {
		paidAt, parseErr := time.Parse(time.RFC3339, req.PaidAt)
		if parseErr != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "paid_at must be an RFC3339 timestamp", parseErr))
			return
		}
		details.PaidAt = &paidAt
	}

	inv, err := h.service.MarkPaid(r.Context(), chi.URLParam(r, "clientID"), chi.URLParam(r, "invoiceID"), details)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: inv})
}

// AttachDocument handles POST /v1/clients/{clientID}/invoices/{invoiceID}/document.
func (h *InvoiceHandler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	var req AttachDocumentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	err := h.service.AttachDocument(
		r.Context(),
		chi.URLParam(r, "clientID"),
		chi.URLParam(r, "invoiceID"),
		types.InvoiceDocumentKind(req.Kind),
		req.DocumentID,
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
