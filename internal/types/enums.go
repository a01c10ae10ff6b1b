package types

// PlanCode identifies a subscription plan in the catalog.
type PlanCode string

const (
	PlanNone  PlanCode = "NONE"
	PlanBasic PlanCode = "BASIC"
	PlanPro   PlanCode = "PRO"
)

// KnownPlanCodes lists every plan code the catalog may contain.
// Used by validators to reject unknown codes before hitting the store.
var KnownPlanCodes = []PlanCode{PlanNone, PlanBasic, PlanPro}

// IsKnownPlanCode reports whether code is one of the catalog plan codes.
func IsKnownPlanCode(code PlanCode) bool {
	for _, c := range KnownPlanCodes {
		if c == code {
			return true
		}
	}
	return false
}

// EntrySource identifies how a time entry was produced.
type EntrySource string

const (
	SourceManual EntrySource = "manual"
	SourceTimer  EntrySource = "timer"
	SourceImport EntrySource = "import"
)

// InvoiceStatus represents the lifecycle state of an invoice.
// Transitions only move forward: OPEN -> REVIEW -> {PAID, CANCELLED},
// plus a direct OPEN|REVIEW -> PAID fast path. PAID and CANCELLED are terminal.
type InvoiceStatus string

const (
	InvoiceOpen      InvoiceStatus = "OPEN"
	InvoiceReview    InvoiceStatus = "REVIEW"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoicePaid || s == InvoiceCancelled
}

// ReviewDecision is the outcome of an invoice proof review.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "approve"
	ReviewCancel  ReviewDecision = "cancel"
)

// InvoiceDocumentKind distinguishes the two document references an invoice
// can carry: the generated invoice PDF and the client's proof of payment.
type InvoiceDocumentKind string

const (
	DocumentKindInvoice InvoiceDocumentKind = "invoice"
	DocumentKindProof   InvoiceDocumentKind = "proof"
)
