package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxledger/internal/types"
)

func numberingRaceRow() fakeRow {
	return fakeRow{scan: func(...any) error {
		return pgError(pgCodeUniqueViolation, "invoices_client_no")
	}}
}

func allocatedRow(invoiceNo int) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
		*(dest[0].(*int)) = invoiceNo
		*(dest[1].(*time.Time)) = now
		*(dest[2].(*time.Time)) = now
		return nil
	}}
}

func testInvoice() *types.Invoice {
	return &types.Invoice{
		ID:          types.NewID(types.IDPrefixInvoice),
		ClientID:    "client_1",
		Status:      types.InvoiceOpen,
		AmountTotal: decimal.RequireFromString("150.00"),
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
}

func requireCode(t *testing.T, err error, code types.ErrorCode) *types.AppError {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestInvoiceRepoCreate_RetriesLostNumberingRace(t *testing.T) {
	dbtx := &fakeDBTX{t: t, rows: []fakeRow{numberingRaceRow(), allocatedRow(4)}}
	repo := NewInvoiceRepo(dbtx)

	inv := testInvoice()
	err := repo.Create(context.Background(), inv)

	require.NoError(t, err)
	assert.Equal(t, 4, inv.InvoiceNo)
	assert.False(t, inv.CreatedAt.IsZero())
	assert.Len(t, dbtx.sqls, 2, "one retry after the lost race")
}

func TestInvoiceRepoCreate_GivesUpAfterRepeatedRaces(t *testing.T) {
	dbtx := &fakeDBTX{t: t, rows: []fakeRow{
		numberingRaceRow(), numberingRaceRow(), numberingRaceRow(),
	}}
	repo := NewInvoiceRepo(dbtx)

	err := repo.Create(context.Background(), testInvoice())

	requireCode(t, err, types.ErrCodeInternalContention)
	assert.Len(t, dbtx.sqls, maxInvoiceNoAttempts)
}

func TestInvoiceRepoCreate_NonRaceErrorFailsFast(t *testing.T) {
	dbtx := &fakeDBTX{t: t, rows: []fakeRow{
		{scan: func(...any) error { return errors.New("connection reset") }},
	}}
	repo := NewInvoiceRepo(dbtx)

	err := repo.Create(context.Background(), testInvoice())

	requireCode(t, err, types.ErrCodeInternalDB)
	assert.Len(t, dbtx.sqls, 1)
}

func TestInvoiceRepoSubmitProof_LostRaceReportsCurrentStatus(t *testing.T) {
	dbtx := &fakeDBTX{
		t:    t,
		exec: []execResult{{tag: pgconn.NewCommandTag("UPDATE 0")}},
		rows: []fakeRow{{scan: func(dest ...any) error {
			*(dest[0].(*types.InvoiceStatus)) = types.InvoiceReview
			return nil
		}}},
	}
	repo := NewInvoiceRepo(dbtx)

	err := repo.SubmitProof(context.Background(), "client_1", "inv_1", "doc_1")

	appErr := requireCode(t, err, types.ErrCodeConflictInvoiceStatus)
	assert.Equal(t, "REVIEW", appErr.Details["status"])
}

func TestInvoiceRepoSubmitProof_MissingInvoiceIsNotFound(t *testing.T) {
	dbtx := &fakeDBTX{
		t:    t,
		exec: []execResult{{tag: pgconn.NewCommandTag("UPDATE 0")}},
		rows: []fakeRow{{scan: func(...any) error { return pgx.ErrNoRows }}},
	}
	repo := NewInvoiceRepo(dbtx)

	err := repo.SubmitProof(context.Background(), "client_1", "inv_missing", "doc_1")

	requireCode(t, err, types.ErrCodeNotFoundInvoice)
}

func TestInvoiceRepoMarkPaid_TerminalInvoiceConflicts(t *testing.T) {
	dbtx := &fakeDBTX{
		t:    t,
		exec: []execResult{{tag: pgconn.NewCommandTag("UPDATE 0")}},
		rows: []fakeRow{{scan: func(dest ...any) error {
			*(dest[0].(*types.InvoiceStatus)) = types.InvoicePaid
			return nil
		}}},
	}
	repo := NewInvoiceRepo(dbtx)

	err := repo.MarkPaid(context.Background(), "client_1", "inv_1",
		types.PaymentDetails{Method: "wire"}, time.Now())

	appErr := requireCode(t, err, types.ErrCodeConflictInvoiceStatus)
	assert.Equal(t, "PAID", appErr.Details["status"])
}
