package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"taxledger/internal/types"
)

// maxInvoiceNoAttempts bounds the retry loop around invoice numbering when
// two invoices for the same client are created concurrently.
const maxInvoiceNoAttempts = 3

// InvoiceRepo provides data access for the invoices table.
//
// Key invariants:
//   - InvoiceNo is allocated inside the INSERT (MAX+1 per client) under the
//     (client_id, invoice_no) unique index; a lost allocation race is retried
//     with a fresh MAX. Numbers are never reused, even after cancellation.
//   - Status transitions are conditional UPDATEs guarded by the expected
//     current status; zero rows affected means the caller lost an optimistic
//     concurrency race (or the invoice is gone, disambiguated by a re-read).
type InvoiceRepo struct {
	db DBTX
}

// NewInvoiceRepo creates a new InvoiceRepo backed by the given database
// connection (pool or transaction).
func NewInvoiceRepo(db DBTX) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

const invoiceColumns = `id, client_id, invoice_no, status, amount_total,
	due_date, period_start, period_end,
	billable_minutes_snapshot, hourly_rate_snapshot,
	proof_document_id, invoice_document_id,
	paid_at, payment_method, reviewed_by, review_note,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*types.Invoice, error) {
	var inv types.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.ClientID,
		&inv.InvoiceNo,
		&inv.Status,
		&inv.AmountTotal,
		&inv.DueDate,
		&inv.PeriodStart,
		&inv.PeriodEnd,
		&inv.BillableMinutesSnapshot,
		&inv.HourlyRateSnapshot,
		&inv.ProofDocumentID,
		&inv.InvoiceDocumentID,
		&inv.PaidAt,
		&inv.PaymentMethod,
		&inv.ReviewedBy,
		&inv.ReviewNote,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create inserts a new invoice and allocates its tenant-scoped sequential
// number. The caller sets ID, status, amounts and snapshots; InvoiceNo,
// CreatedAt and UpdatedAt are populated from the insert.
func (r *InvoiceRepo) Create(ctx context.Context, inv *types.Invoice) error {
	for attempt := 0; attempt < maxInvoiceNoAttempts; attempt++ {
		err := r.db.QueryRow(ctx,
			`INSERT INTO invoices (
				id, client_id, invoice_no, status, amount_total,
				due_date, period_start, period_end,
				billable_minutes_snapshot, hourly_rate_snapshot,
				invoice_document_id,
				created_at, updated_at
			)
			SELECT $1, $2, COALESCE(MAX(invoice_no), 0) + 1, $3, $4,
			       $5, $6, $7,
			       $8, $9,
			       $10,
			       NOW(), NOW()
			FROM invoices WHERE client_id = $2
			RETURNING invoice_no, created_at, updated_at`,
			inv.ID,
			inv.ClientID,
			inv.Status,
			inv.AmountTotal,
			inv.DueDate,
			inv.PeriodStart,
			inv.PeriodEnd,
			inv.BillableMinutesSnapshot,
			inv.HourlyRateSnapshot,
			inv.InvoiceDocumentID,
		).Scan(&inv.InvoiceNo, &inv.CreatedAt, &inv.UpdatedAt)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err, "invoices_client_no") {
			// Lost the numbering race to a concurrent create; re-read MAX.
			continue
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create invoice", err)
	}
	return types.NewAppError(types.ErrCodeInternalContention, "invoice number allocation kept losing races", nil)
}

// GetByID retrieves an invoice scoped to the given client.
func (r *InvoiceRepo) GetByID(ctx context.Context, clientID, invoiceID string) (*types.Invoice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE id = $1 AND client_id = $2`,
		invoiceID, clientID,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve invoice", err)
	}
	return inv, nil
}

// List returns a client's invoices, newest first, optionally filtered by
// status. A non-positive limit falls back to 50, capped at 200.
func (r *InvoiceRepo) List(ctx context.Context, clientID string, status types.InvoiceStatus, limit int) ([]*types.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := `SELECT ` + invoiceColumns + `
		 FROM invoices
		 WHERE client_id = $1`
	args := []any{clientID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, invoice_no DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list invoices", err)
	}
	defer rows.Close()

	var results []*types.Invoice
	for rows.Next() {
		inv, scanErr := scanInvoice(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice row", scanErr)
		}
		results = append(results, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating invoice rows", err)
	}
	return results, nil
}

// SubmitProof attaches the proof document and moves OPEN -> REVIEW in one
// conditional update. Exactly one of two concurrent submissions can win;
// the loser sees zero rows affected and receives a Conflict (or NotFound if
// the invoice does not exist at all).
func (r *InvoiceRepo) SubmitProof(ctx context.Context, clientID, invoiceID, documentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices SET
			proof_document_id = $1,
			status = 'REVIEW',
			updated_at = NOW()
		 WHERE id = $2 AND client_id = $3 AND status = 'OPEN'`,
		documentID, invoiceID, clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to submit invoice proof", err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, clientID, invoiceID, "invoice already under review or status changed")
	}
	return nil
}

// Review finalizes a REVIEW invoice to PAID or CANCELLED, recording the
// reviewer and note. Conditional on the current status still being REVIEW.
func (r *InvoiceRepo) Review(ctx context.Context, clientID, invoiceID string, outcome types.InvoiceStatus, reviewedBy, note string, paidAt *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices SET
			status = $1,
			reviewed_by = $2,
			review_note = $3,
			paid_at = $4,
			updated_at = NOW()
		 WHERE id = $5 AND client_id = $6 AND status = 'REVIEW'`,
		outcome, reviewedBy, nilIfEmpty(note), paidAt, invoiceID, clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to review invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, clientID, invoiceID, "invoice is not awaiting review")
	}
	return nil
}

// MarkPaid settles an invoice from any non-terminal status, recording the
// payment metadata. Conditional on the invoice not already being terminal.
func (r *InvoiceRepo) MarkPaid(ctx context.Context, clientID, invoiceID string, details types.PaymentDetails, paidAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices SET
			status = 'PAID',
			paid_at = $1,
			payment_method = $2,
			review_note = COALESCE($3, review_note),
			updated_at = NOW()
		 WHERE id = $4 AND client_id = $5 AND status NOT IN ('PAID', 'CANCELLED')`,
		paidAt, details.Method, nilIfEmpty(details.Note), invoiceID, clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark invoice as paid", err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, clientID, invoiceID, "invoice is already settled or cancelled")
	}
	return nil
}

// AttachDocument records the invoice PDF or a proof document reference
// without changing status.
func (r *InvoiceRepo) AttachDocument(ctx context.Context, clientID, invoiceID string, kind types.InvoiceDocumentKind, documentID string) error {
	column := "invoice_document_id"
	if kind == types.DocumentKindProof {
		column = "proof_document_id"
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices SET `+column+` = $1, updated_at = NOW()
		 WHERE id = $2 AND client_id = $3`,
		documentID, invoiceID, clientID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to attach invoice document", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
	}
	return nil
}

// conflictOrNotFound disambiguates a zero-row conditional update: a missing
// row is NotFound, an existing row in an unexpected status is Conflict.
func (r *InvoiceRepo) conflictOrNotFound(ctx context.Context, clientID, invoiceID, conflictMsg string) error {
	var status types.InvoiceStatus
	err := r.db.QueryRow(ctx,
		`SELECT status FROM invoices WHERE id = $1 AND client_id = $2`,
		invoiceID, clientID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to read invoice status", err)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictInvoiceStatus, conflictMsg, nil,
		map[string]any{"status": string(status)})
}
