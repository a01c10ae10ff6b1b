package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxledger/internal/types"
)

type mockTimerService struct {
	startedTask string
	stoppedTask string
	timer       *types.ActiveTimer
	entry       *types.TimeEntry
	err         error
}

func (m *mockTimerService) Start(_ context.Context, _, _, task string) (*types.ActiveTimer, error) {
	m.startedTask = task
	return m.timer, m.err
}

func (m *mockTimerService) Stop(_ context.Context, _, _, task string) (*types.TimeEntry, error) {
	m.stoppedTask = task
	return m.entry, m.err
}

func (m *mockTimerService) GetActive(_ context.Context, _, _ string) (*types.ActiveTimer, error) {
	return m.timer, m.err
}

func newTimerRouter(svc TimerService) http.Handler {
	h := NewTimerHandler(svc, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestStartTimer_WithTask(t *testing.T) {
	svc := &mockTimerService{timer: &types.ActiveTimer{ID: "tmr_1", StartedAt: time.Now().UTC()}}
	router := newTimerRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/clients/client_1/timer/start", strings.NewReader(`{"task":"payroll"}`))
	req.Header.Set(actingUserHeader, "user_adv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "payroll", svc.startedTask)
}

func TestStartTimer_EmptyBodyAllowed(t *testing.T) {
	svc := &mockTimerService{timer: &types.ActiveTimer{ID: "tmr_1"}}
	router := newTimerRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/clients/client_1/timer/start", nil)
	req.Header.Set(actingUserHeader, "user_adv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestStartTimer_ConflictWhileRunning(t *testing.T) {
	svc := &mockTimerService{err: types.NewAppError(types.ErrCodeConflictTimerRunning, "already running", nil)}
	router := newTimerRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/clients/client_1/timer/start", nil)
	req.Header.Set(actingUserHeader, "user_adv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictTimerRunning), errorCodeOf(t, rec))
}

func TestStopTimer_ReturnsEntry(t *testing.T) {
	svc := &mockTimerService{entry: &types.TimeEntry{ID: "te_1", Minutes: 25, Source: types.SourceTimer}}
	router := newTimerRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/clients/client_1/timer/stop", nil)
	req.Header.Set(actingUserHeader, "user_adv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entry types.TimeEntry
	decodeEnvelope(t, rec, &entry)
	assert.Equal(t, 25, entry.Minutes)
	assert.Equal(t, types.SourceTimer, entry.Source)
	assert.Empty(t, svc.stoppedTask, "no body means no task override")
}

func TestStopTimer_TaskOverrideInBody(t *testing.T) {
	svc := &mockTimerService{entry: &types.TimeEntry{ID: "te_1", Minutes: 10, Source: types.SourceTimer}}
	router := newTimerRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/clients/client_1/timer/stop", strings.NewReader(`{"task":"client call"}`))
	req.Header.Set(actingUserHeader, "user_adv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "client call", svc.stoppedTask)
}

func TestTimer_RequiresActingUser(t *testing.T) {
	router := newTimerRouter(&mockTimerService{})

	for _, target := range []string{"/clients/client_1/timer/start", "/clients/client_1/timer/stop"} {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetActiveTimer_NotFound(t *testing.T) {
	svc := &mockTimerService{err: types.NewAppError(types.ErrCodeNotFoundTimer, "no timer is running", nil)}
	router := newTimerRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/clients/client_1/timer", nil)
	req.Header.Set(actingUserHeader, "user_adv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
