package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxledger/internal/types"
)

func newRetryingClient(maxRetries int) (*BaseClient, *[]time.Duration) {
	var sleeps []time.Duration
	bc := NewBaseClient(
		&http.Client{Timeout: 2 * time.Second},
		"test",
		RetryPolicy{MaxRetries: maxRetries, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond},
		"TaxLedger-test",
		WithSleepFunc(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	return bc, &sleeps
}

func TestDo_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bc, sleeps := newRetryingClient(2)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, *sleeps, 1)
}

func TestDo_ExhaustedRetriesMapTo502(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	bc, _ := newRetryingClient(1)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := bc.Do(req)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
}

func TestDo_RateLimitedMapsToUpstreamRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	bc, _ := newRetryingClient(0)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := bc.Do(req)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

func TestDo_NonRetryable4xxReturnedAsIs(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	bc, _ := newRetryingClient(3)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestDo_RespectsRetryAfterSeconds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bc, sleeps := newRetryingClient(1)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Len(t, *sleeps, 1)
	// Retry-After of 1s is clamped to the 100ms MaxWait.
	assert.Equal(t, 100*time.Millisecond, (*sleeps)[0])
}

func TestDo_InjectsTraceAndUserAgent(t *testing.T) {
	var gotTrace, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-Request-Id")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bc, _ := newRetryingClient(0)
	ctx := types.WithRequestID(context.Background(), "trace-123")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	resp, err := bc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-123", gotTrace)
	assert.Equal(t, "TaxLedger-test", gotUA)
}
