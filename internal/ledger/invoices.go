package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"taxledger/internal/types"
)

// minutesPerHour converts minute totals to billable hours.
var minutesPerHour = decimal.NewFromInt(60)

// DefaultInvoiceListLimit is the page size used when a list request does not
// name one.
const DefaultInvoiceListLimit = 50

// InvoiceStore is the persistence surface for invoices.
type InvoiceStore interface {
	Create(ctx context.Context, inv *types.Invoice) error
	GetByID(ctx context.Context, clientID, invoiceID string) (*types.Invoice, error)
	List(ctx context.Context, clientID string, status types.InvoiceStatus, limit int) ([]*types.Invoice, error)
	SubmitProof(ctx context.Context, clientID, invoiceID, documentID string) error
	Review(ctx context.Context, clientID, invoiceID string, outcome types.InvoiceStatus, reviewedBy, note string, paidAt *time.Time) error
	MarkPaid(ctx context.Context, clientID, invoiceID string, details types.PaymentDetails, paidAt time.Time) error
	AttachDocument(ctx context.Context, clientID, invoiceID string, kind types.InvoiceDocumentKind, documentID string) error
}

// BillableReader supplies the minute totals invoice auto-calculation bills.
type BillableReader interface {
	SumBillableMinutes(ctx context.Context, clientID string, periodStart, periodEnd time.Time) (int, error)
}

// InvoicePlanResolver resolves the plan whose hourly rate prices a period.
type InvoicePlanResolver interface {
	// PlanActiveAt returns (nil, nil) when the client has no plan at the date.
	PlanActiveAt(ctx context.Context, clientID string, at time.Time) (*types.PlanConfig, error)
}

// DocumentVerifier checks that an uploaded document belongs to the client
// before it is referenced from an invoice. Implemented by the document
// service client.
type DocumentVerifier interface {
	VerifyOwnership(ctx context.Context, clientID, documentID string) error
}

// CreateInvoiceParams are the inputs to InvoiceService.Create.
//
// When AutoCalculate is set, AmountTotal is ignored and the amount is priced
// from the billable minutes in [PeriodStart, PeriodEnd] at the hourly rate of
// the plan active on PeriodEnd. Otherwise AmountTotal is taken as given.
type CreateInvoiceParams struct {
	ClientID      string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	DueDate       *time.Time
	AmountTotal   decimal.Decimal
	AutoCalculate bool
}

// ReviewParams are the inputs to InvoiceService.Review.
type ReviewParams struct {
	ClientID   string
	InvoiceID  string
	Decision   types.ReviewDecision
	ReviewedBy string
	Note       string
}

// InvoiceService implements the invoice lifecycle:
// OPEN -> REVIEW -> PAID | CANCELLED, with direct settlement allowed from any
// non-terminal status. Terminal invoices never change again.
type InvoiceService struct {
	store     InvoiceStore
	billables BillableReader
	plans     InvoicePlanResolver
	documents DocumentVerifier
	logger    *slog.Logger
	listLimit int
	nowFn     func() time.Time
}

// NewInvoiceService creates an InvoiceService. listLimit <= 0 falls back to
// DefaultInvoiceListLimit.
func NewInvoiceService(store InvoiceStore, billables BillableReader, plans InvoicePlanResolver, documents DocumentVerifier, logger *slog.Logger, listLimit int) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	if listLimit <= 0 {
		listLimit = DefaultInvoiceListLimit
	}
	return &InvoiceService{
		store:     store,
		billables: billables,
		plans:     plans,
		documents: documents,
		logger:    logger,
		listLimit: listLimit,
		nowFn:     time.Now,
	}
}

// Create opens a new invoice in OPEN status and allocates the client's next
// invoice number. Numbers are strictly increasing per client and are never
// reused, even when an invoice is later cancelled.
func (s *InvoiceService) Create(ctx context.Context, p CreateInvoiceParams) (*types.Invoice, error) {
	if p.ClientID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client is required", nil)
	}
	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPeriod, "billing period is required", nil)
	}
	periodStart := types.Midnight(p.PeriodStart)
	periodEnd := types.Midnight(p.PeriodEnd)
	if periodEnd.Before(periodStart) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPeriod, "period end is before period start", nil)
	}

	inv := &types.Invoice{
		ID:          types.NewID(types.IDPrefixInvoice),
		ClientID:    p.ClientID,
		Status:      types.InvoiceOpen,
		DueDate:     p.DueDate,
		PeriodStart: &periodStart,
		PeriodEnd:   &periodEnd,
	}

	if p.AutoCalculate {
		minutes, rate, err := s.priceForPeriod(ctx, p.ClientID, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		inv.AmountTotal = rate.Mul(decimal.NewFromInt(int64(minutes))).Div(minutesPerHour).Round(2)
		inv.BillableMinutesSnapshot = &minutes
		inv.HourlyRateSnapshot = &rate
	} else {
		if p.AmountTotal.IsNegative() {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidAmount, "invoice amount must not be negative", nil)
		}
		inv.AmountTotal = p.AmountTotal.Round(2)
	}

	if err := s.store.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "invoice created",
		"client_id", inv.ClientID,
		"invoice_id", inv.ID,
		"invoice_no", inv.InvoiceNo,
		"amount_total", inv.AmountTotal.String(),
	)
	return inv, nil
}

// priceForPeriod returns the billable minutes within the period and the
// hourly rate of the plan active on the period's last day. Without a plan
// the rate is zero; the minutes are still snapshotted for traceability.
func (s *InvoiceService) priceForPeriod(ctx context.Context, clientID string, periodStart, periodEnd time.Time) (int, decimal.Decimal, error) {
	minutes, err := s.billables.SumBillableMinutes(ctx, clientID, periodStart, periodEnd)
	if err != nil {
		return 0, decimal.Zero, err
	}
	plan, err := s.plans.PlanActiveAt(ctx, clientID, periodEnd)
	if err != nil {
		return 0, decimal.Zero, err
	}
	rate := decimal.Zero
	if plan != nil {
		rate = plan.HourlyRate
	}
	return minutes, rate, nil
}

// Get returns one invoice scoped to the client.
func (s *InvoiceService) Get(ctx context.Context, clientID, invoiceID string) (*types.Invoice, error) {
	if clientID == "" || invoiceID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and invoice are required", nil)
	}
	return s.store.GetByID(ctx, clientID, invoiceID)
}

// List returns the client's invoices, newest first, optionally filtered by
// status. A non-positive limit falls back to the configured page size.
func (s *InvoiceService) List(ctx context.Context, clientID string, status types.InvoiceStatus, limit int) ([]*types.Invoice, error) {
	if clientID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client is required", nil)
	}
	if limit <= 0 {
		limit = s.listLimit
	}
	return s.store.List(ctx, clientID, status, limit)
}

// SubmitProof attaches a payment proof document and moves the invoice from
// OPEN to REVIEW. The document's ownership is verified with the document
// service before any state changes; a proof belonging to another client is
// rejected as not found.
func (s *InvoiceService) SubmitProof(ctx context.Context, clientID, invoiceID, documentID string) (*types.Invoice, error) {
	if clientID == "" || invoiceID == "" || documentID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client, invoice and document are required", nil)
	}
	if err := s.documents.VerifyOwnership(ctx, clientID, documentID); err != nil {
		return nil, err
	}
	if err := s.store.SubmitProof(ctx, clientID, invoiceID, documentID); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, clientID, invoiceID)
}

// Review finalizes an invoice awaiting review: approve settles it as PAID,
// cancel moves it to CANCELLED. Only invoices currently in REVIEW can be
// reviewed; concurrent reviewers race on the conditional update and exactly
// one wins.
func (s *InvoiceService) Review(ctx context.Context, p ReviewParams) (*types.Invoice, error) {
	if p.ClientID == "" || p.InvoiceID == "" || p.ReviewedBy == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client, invoice and reviewer are required", nil)
	}

	var outcome types.InvoiceStatus
	var paidAt *time.Time
	switch p.Decision {
	case types.ReviewApprove:
		outcome = types.InvoicePaid
		now := s.nowFn().UTC()
		paidAt = &now
	case types.ReviewCancel:
		outcome = types.InvoiceCancelled
	default:
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "review decision must be approve or cancel", nil)
	}

	if err := s.store.Review(ctx, p.ClientID, p.InvoiceID, outcome, p.ReviewedBy, p.Note, paidAt); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "invoice reviewed",
		"client_id", p.ClientID,
		"invoice_id", p.InvoiceID,
		"outcome", string(outcome),
		"reviewed_by", p.ReviewedBy,
	)
	return s.store.GetByID(ctx, p.ClientID, p.InvoiceID)
}

// MarkPaid settles an invoice directly, bypassing the proof/review flow
// (wire transfers reconciled by the advisor). Settling an already PAID
// invoice reports ErrCodeConflictInvoicePaid; a CANCELLED one can never be
// revived.
func (s *InvoiceService) MarkPaid(ctx context.Context, clientID, invoiceID string, details types.PaymentDetails) (*types.Invoice, error) {
	if clientID == "" || invoiceID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and invoice are required", nil)
	}
	if details.Method == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "payment method is required", nil)
	}

	current, err := s.store.GetByID(ctx, clientID, invoiceID)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case types.InvoicePaid:
		return nil, types.NewAppError(types.ErrCodeConflictInvoicePaid, "invoice is already paid", nil)
	case types.InvoiceCancelled:
		return nil, types.NewAppError(types.ErrCodeConflictInvoiceStatus, "cancelled invoices cannot be paid", nil)
	}

	paidAt := s.nowFn().UTC()
	if details.PaidAt != nil {
		paidAt = *details.PaidAt
	}
	if err := s.store.MarkPaid(ctx, clientID, invoiceID, details, paidAt); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "invoice marked paid",
		"client_id", clientID,
		"invoice_id", invoiceID,
		"method", details.Method,
	)
	return s.store.GetByID(ctx, clientID, invoiceID)
}

// AttachDocument links a generated invoice PDF (or replacement proof) to the
// invoice without changing its status. Ownership is verified first.
func (s *InvoiceService) AttachDocument(ctx context.Context, clientID, invoiceID string, kind types.InvoiceDocumentKind, documentID string) error {
	if clientID == "" || invoiceID == "" || documentID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "client, invoice and document are required", nil)
	}
	if err := s.documents.VerifyOwnership(ctx, clientID, documentID); err != nil {
		return err
	}
	return s.store.AttachDocument(ctx, clientID, invoiceID, kind, documentID)
}
