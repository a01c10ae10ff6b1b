package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"taxledger/internal/types"
)

// Validator wraps go-playground/validator and translates field errors into
// the ledger's AppError shape so handlers return consistent 400s.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates a request payload struct against its validate
// tags. Field failures are collected into a single AppError with a
// field -> failed-rule details map.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]any, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = fe.Tag()
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"request validation failed",
			err,
			details,
		)
	}

	// InvalidValidationError means the caller passed a non-struct; that is a
	// programming error, not client input.
	v.logger.Error("validator received a non-struct value", "error", err)
	return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
}
