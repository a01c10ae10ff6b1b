package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"taxledger/internal/types"
)

type staticProbe struct {
	name string
	err  error
}

func (p *staticProbe) Name() string                  { return p.name }
func (p *staticProbe) Check(_ context.Context) error { return p.err }

type panickingProbe struct{}

func (p *panickingProbe) Name() string                  { return "panicky" }
func (p *panickingProbe) Check(_ context.Context) error { panic("probe exploded") }

func healthRequest(srv *Server) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHandleHealth_NoProbes(t *testing.T) {
	srv := testServer(t)
	rec := healthRequest(srv)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	srv := testServer(t)
	srv.HealthProbes = []HealthProbe{
		&staticProbe{name: "database"},
		&staticProbe{name: "documents"},
	}
	rec := healthRequest(srv)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":{"status":"healthy"}`)
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	srv := testServer(t)
	srv.HealthProbes = []HealthProbe{
		&staticProbe{name: "database"},
		&staticProbe{name: "documents", err: errors.New("connection refused")},
	}
	rec := healthRequest(srv)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestHandleHealth_PanickingProbeIsUnhealthy(t *testing.T) {
	srv := testServer(t)
	srv.HealthProbes = []HealthProbe{&panickingProbe{}}
	rec := healthRequest(srv)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "probe panicked")
}

func TestValidateStruct_CollectsFieldErrors(t *testing.T) {
	v := NewValidator(nil)

	type payload struct {
		Name    string `validate:"required"`
		Minutes int    `validate:"gte=0"`
	}

	err := v.ValidateStruct(payload{Minutes: -1})
	var appErr *types.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Equal(t, "required", appErr.Details["Name"])
	assert.Equal(t, "gte", appErr.Details["Minutes"])
}

func TestValidateStruct_ValidPayload(t *testing.T) {
	v := NewValidator(nil)

	type payload struct {
		Name string `validate:"required"`
	}
	assert.NoError(t, v.ValidateStruct(payload{Name: "ok"}))
}
