// Package db provides PostgreSQL-backed repository implementations for the
// time and billing ledger. All repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution), enabling clean transaction support.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgreSQL error codes the ledger reacts to.
const (
	pgCodeUniqueViolation      = "23505"
	pgCodeCheckViolation       = "23514"
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (optionally on the named constraint, if one is given).
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgCodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsRetryableConflict reports whether err is a transient store-level conflict
// that a transactional retry loop should re-attempt from a fresh read:
// unique violations from concurrent inserts, serialization failures, and
// deadlocks. Check violations are included because the guarded allowance
// increment surfaces a lost race as a CHECK failure.
func IsRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgCodeUniqueViolation, pgCodeCheckViolation, pgCodeSerializationFailure, pgCodeDeadlockDetected:
		return true
	}
	return false
}
