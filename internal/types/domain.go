package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewID generates a prefixed unique identifier, e.g. "te_9f8b...".
// The prefix makes entity IDs self-describing in logs and foreign keys.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Entity ID prefixes.
const (
	IDPrefixTimeEntry  = "te"
	IDPrefixAssignment = "pa"
	IDPrefixTimer      = "tmr"
	IDPrefixInvoice    = "inv"
)

// PlanConfig is a catalog row describing one subscription plan.
// Rows are admin-edited in place and never deleted, only deactivated.
type PlanConfig struct {
	Code               PlanCode        `json:"code"`
	DisplayName        string          `json:"display_name"`
	FreeMinutesMonthly int             `json:"free_minutes_monthly"`
	HourlyRate         decimal.Decimal `json:"hourly_rate"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PlanAssignment records which plan applies to a client over a date range.
// EffectiveTo is nil for the single open-ended (active) assignment; a row
// gains an EffectiveTo only when superseded and is never physically deleted.
type PlanAssignment struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	PlanCode      PlanCode   `json:"plan_code"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	AssignedBy    string     `json:"assigned_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Covers reports whether the assignment's interval contains the given date.
// The interval [EffectiveFrom, EffectiveTo] is closed: the closing day itself
// is still covered. An open-ended assignment covers everything from
// EffectiveFrom on.
func (a *PlanAssignment) Covers(date time.Time) bool {
	d := Midnight(date)
	if d.Before(Midnight(a.EffectiveFrom)) {
		return false
	}
	if a.EffectiveTo == nil {
		return true
	}
	return !d.After(Midnight(*a.EffectiveTo))
}

// MonthlyAllowance is the per-client-per-month free-minutes counter.
// FreeMinutesTotal is snapshotted from the plan active at period start and is
// not retroactively changed by later reassignment within the same period.
// Committed state always satisfies 0 <= FreeMinutesUsed <= FreeMinutesTotal.
type MonthlyAllowance struct {
	ClientID         string    `json:"client_id"`
	PeriodStart      time.Time `json:"period_start"`
	PlanCode         PlanCode  `json:"plan_code"`
	FreeMinutesTotal int       `json:"free_minutes_total"`
	FreeMinutesUsed  int       `json:"free_minutes_used"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Remaining returns the unconsumed portion of the monthly grant.
func (m *MonthlyAllowance) Remaining() int {
	r := m.FreeMinutesTotal - m.FreeMinutesUsed
	if r < 0 {
		return 0
	}
	return r
}

// TimeEntry is one recorded unit of advisor work. The invariant
// FreeMinutesConsumed + BillableMinutes == Minutes holds for every entry.
// Entries are soft-deleted only and excluded from aggregates once deleted.
type TimeEntry struct {
	ID                  string      `json:"id"`
	ClientID            string      `json:"client_id"`
	AdvisorUserID       string      `json:"advisor_user_id"`
	WorkedAt            time.Time   `json:"worked_at"`
	Minutes             int         `json:"minutes"`
	FreeMinutesConsumed int         `json:"free_minutes_consumed"`
	BillableMinutes     int         `json:"billable_minutes"`
	Task                string      `json:"task,omitempty"`
	IsBillable          bool        `json:"is_billable"`
	Source              EntrySource `json:"source"`
	CreatedAt           time.Time   `json:"created_at"`
	DeletedAt           *time.Time  `json:"deleted_at,omitempty"`
	DeletedBy           *string     `json:"deleted_by,omitempty"`
}

// ActiveTimer exists only between start and stop; at most one per
// (client, advisor) pair, enforced by a unique constraint.
type ActiveTimer struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	AdvisorUserID string    `json:"advisor_user_id"`
	StartedAt     time.Time `json:"started_at"`
	Task          string    `json:"task,omitempty"`
}

// Invoice is a per-client billing document. InvoiceNo is a tenant-scoped
// sequence assigned once at creation and never reused, even after cancellation.
type Invoice struct {
	ID                      string           `json:"id"`
	ClientID                string           `json:"client_id"`
	InvoiceNo               int              `json:"invoice_no"`
	Status                  InvoiceStatus    `json:"status"`
	AmountTotal             decimal.Decimal  `json:"amount_total"`
	DueDate                 *time.Time       `json:"due_date,omitempty"`
	PeriodStart             *time.Time       `json:"period_start,omitempty"`
	PeriodEnd               *time.Time       `json:"period_end,omitempty"`
	BillableMinutesSnapshot *int             `json:"billable_minutes_snapshot,omitempty"`
	HourlyRateSnapshot      *decimal.Decimal `json:"hourly_rate_snapshot,omitempty"`
	ProofDocumentID         *string          `json:"proof_document_id,omitempty"`
	InvoiceDocumentID       *string          `json:"invoice_document_id,omitempty"`
	PaidAt                  *time.Time       `json:"paid_at,omitempty"`
	PaymentMethod           *string          `json:"payment_method,omitempty"`
	ReviewedBy              *string          `json:"reviewed_by,omitempty"`
	ReviewNote              *string          `json:"review_note,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// PaymentDetails carries the metadata recorded when an invoice is settled.
type PaymentDetails struct {
	Method string     `json:"method"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
	Note   string     `json:"note,omitempty"`
}

// MonthlySummary is the read-only aggregate for one client and one
// allowance period. It is computed whether or not the allowance row
// exists yet; for a period with no recorded time the totals come from
// the plan active at period start.
type MonthlySummary struct {
	ClientID             string    `json:"client_id"`
	PeriodStart          time.Time `json:"period_start"`
	PlanCode             PlanCode  `json:"plan_code"`
	FreeMinutesTotal     int       `json:"free_minutes_total"`
	FreeMinutesUsed      int       `json:"free_minutes_used"`
	FreeMinutesRemaining int       `json:"free_minutes_remaining"`
	TotalMinutes         int       `json:"total_minutes"`
	BillableMinutes      int       `json:"billable_minutes"`
	EntryCount           int       `json:"entry_count"`
}

// PlanChange is the result of assigning a plan: the closed previous
// assignment (nil on a client's first assignment) and the new active one.
type PlanChange struct {
	PreviousPlan *PlanAssignment `json:"previous_plan"`
	NewPlan      *PlanAssignment `json:"new_plan"`
}

// Midnight truncates a timestamp to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodStartOf returns the first-of-month date identifying the allowance
// period that contains the given date.
func PeriodStartOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEndOf returns the last day of the allowance period containing t.
func PeriodEndOf(t time.Time) time.Time {
	return PeriodStartOf(t).AddDate(0, 1, -1)
}
