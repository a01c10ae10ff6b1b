package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func pgError(code, constraint string) error {
	return &pgconn.PgError{Code: code, ConstraintName: constraint}
}

func TestIsUniqueViolation(t *testing.T) {
	err := pgError(pgCodeUniqueViolation, "invoices_client_no")

	assert.True(t, isUniqueViolation(err, "invoices_client_no"))
	assert.True(t, isUniqueViolation(err, ""), "empty constraint matches any unique violation")
	assert.False(t, isUniqueViolation(err, "other_constraint"))
	assert.False(t, isUniqueViolation(pgError(pgCodeCheckViolation, "invoices_client_no"), "invoices_client_no"))
	assert.False(t, isUniqueViolation(errors.New("plain error"), ""))
}

func TestIsRetryableConflict(t *testing.T) {
	retryable := []string{
		pgCodeUniqueViolation,
		pgCodeCheckViolation,
		pgCodeSerializationFailure,
		pgCodeDeadlockDetected,
	}
	for _, code := range retryable {
		assert.True(t, IsRetryableConflict(pgError(code, "")), code)
	}

	assert.False(t, IsRetryableConflict(pgError("23503", "")), "FK violations are not retryable")
	assert.False(t, IsRetryableConflict(errors.New("connection reset")))
	assert.False(t, IsRetryableConflict(nil))
}

func TestIsUniqueViolation_WrappedError(t *testing.T) {
	wrapped := errors.Join(errors.New("exec failed"), pgError(pgCodeUniqueViolation, "active_timers_client_advisor"))
	assert.True(t, isUniqueViolation(wrapped, "active_timers_client_advisor"))
	assert.True(t, IsRetryableConflict(wrapped))
}
