package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxledger/internal/types"
)

// fakeTimerStore holds at most one timer per (client, advisor) pair.
type fakeTimerStore struct {
	timers    map[string]*types.ActiveTimer
	deleteErr error
	deleted   []string
}

func newFakeTimerStore() *fakeTimerStore {
	return &fakeTimerStore{timers: make(map[string]*types.ActiveTimer)}
}

func timerKey(clientID, advisorUserID string) string {
	return clientID + "|" + advisorUserID
}

func (f *fakeTimerStore) Insert(_ context.Context, t *types.ActiveTimer) error {
	key := timerKey(t.ClientID, t.AdvisorUserID)
	if _, exists := f.timers[key]; exists {
		return types.NewAppError(types.ErrCodeConflictTimerRunning, "a timer is already running", nil)
	}
	copied := *t
	f.timers[key] = &copied
	return nil
}

func (f *fakeTimerStore) Get(_ context.Context, clientID, advisorUserID string) (*types.ActiveTimer, error) {
	t, ok := f.timers[timerKey(clientID, advisorUserID)]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTimer, "no timer is running", nil)
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTimerStore) Delete(_ context.Context, timerID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for key, t := range f.timers {
		if t.ID == timerID {
			delete(f.timers, key)
			f.deleted = append(f.deleted, timerID)
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeNotFoundTimer, "timer not found", nil)
}

// fakeRecorder captures the params Stop converts the timer into.
type fakeRecorder struct {
	lastParams RecordParams
	err        error
}

func (f *fakeRecorder) Record(_ context.Context, p RecordParams) (*types.TimeEntry, error) {
	f.lastParams = p
	if f.err != nil {
		return nil, f.err
	}
	return &types.TimeEntry{
		ID:              types.NewID(types.IDPrefixTimeEntry),
		ClientID:        p.ClientID,
		AdvisorUserID:   p.AdvisorUserID,
		WorkedAt:        types.Midnight(p.WorkedAt),
		Minutes:         p.Minutes,
		BillableMinutes: p.Minutes,
		IsBillable:      p.IsBillable,
		Source:          p.Source,
	}, nil
}

var timerNow = time.Date(2026, 8, 15, 14, 0, 0, 0, time.UTC)

func newTestTimerService(store *fakeTimerStore, rec *fakeRecorder) *TimerService {
	svc := NewTimerService(store, rec, nil)
	svc.nowFn = func() time.Time { return timerNow }
	return svc
}

func TestTimerStart_SecondStartConflicts(t *testing.T) {
	store := newFakeTimerStore()
	svc := newTestTimerService(store, &fakeRecorder{})
	ctx := context.Background()

	timer, err := svc.Start(ctx, "client_1", "user_adv", "bookkeeping")
	require.NoError(t, err)
	assert.Equal(t, "bookkeeping", timer.Task)
	assert.Equal(t, timerNow, timer.StartedAt)

	_, err = svc.Start(ctx, "client_1", "user_adv", "another")
	assertAppErrorCode(t, err, types.ErrCodeConflictTimerRunning)

	// A different advisor on the same client is a distinct timer.
	_, err = svc.Start(ctx, "client_1", "user_other", "")
	require.NoError(t, err)
}

func TestTimerStop_RoundsUpToWholeMinutes(t *testing.T) {
	store := newFakeTimerStore()
	rec := &fakeRecorder{}
	svc := newTestTimerService(store, rec)
	ctx := context.Background()

	store.timers[timerKey("client_1", "user_adv")] = &types.ActiveTimer{
		ID:            "tmr_1",
		ClientID:      "client_1",
		AdvisorUserID: "user_adv",
		StartedAt:     timerNow.Add(-100 * time.Second),
		Task:          "payroll",
	}

	entry, err := svc.Stop(ctx, "client_1", "user_adv", "")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Minutes, "1m40s rounds up to 2 minutes")
	assert.Equal(t, types.SourceTimer, rec.lastParams.Source)
	assert.True(t, rec.lastParams.IsBillable)
	assert.Equal(t, "payroll", rec.lastParams.Task)
	assert.Equal(t, []string{"tmr_1"}, store.deleted)
}

func TestTimerStop_TaskOverrideReplacesStartTask(t *testing.T) {
	store := newFakeTimerStore()
	rec := &fakeRecorder{}
	svc := newTestTimerService(store, rec)

	store.timers[timerKey("client_1", "user_adv")] = &types.ActiveTimer{
		ID:            "tmr_1",
		ClientID:      "client_1",
		AdvisorUserID: "user_adv",
		StartedAt:     timerNow.Add(-20 * time.Minute),
		Task:          "payroll",
	}

	_, err := svc.Stop(context.Background(), "client_1", "user_adv", "quarterly filing")
	require.NoError(t, err)
	assert.Equal(t, "quarterly filing", rec.lastParams.Task)
}

func TestTimerStop_MinimumOneMinute(t *testing.T) {
	store := newFakeTimerStore()
	rec := &fakeRecorder{}
	svc := newTestTimerService(store, rec)

	store.timers[timerKey("client_1", "user_adv")] = &types.ActiveTimer{
		ID:            "tmr_1",
		ClientID:      "client_1",
		AdvisorUserID: "user_adv",
		StartedAt:     timerNow.Add(-5 * time.Second),
	}

	entry, err := svc.Stop(context.Background(), "client_1", "user_adv", "")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Minutes)
}

func TestTimerStop_NoTimerRunning(t *testing.T) {
	svc := newTestTimerService(newFakeTimerStore(), &fakeRecorder{})

	_, err := svc.Stop(context.Background(), "client_1", "user_adv", "")
	assertAppErrorCode(t, err, types.ErrCodeNotFoundTimer)
}

func TestTimerStop_DeleteFailureSurfacesWithEntry(t *testing.T) {
	store := newFakeTimerStore()
	store.deleteErr = types.NewAppError(types.ErrCodeInternalDB, "delete failed", nil)
	svc := newTestTimerService(store, &fakeRecorder{})

	store.timers[timerKey("client_1", "user_adv")] = &types.ActiveTimer{
		ID:            "tmr_1",
		ClientID:      "client_1",
		AdvisorUserID: "user_adv",
		StartedAt:     timerNow.Add(-30 * time.Minute),
	}

	entry, err := svc.Stop(context.Background(), "client_1", "user_adv", "")
	assertAppErrorCode(t, err, types.ErrCodeInternalDB)
	require.NotNil(t, entry, "the recorded entry is returned even when cleanup fails")
	assert.Equal(t, 30, entry.Minutes)
}

func TestTimerStop_RecordFailureKeepsTimer(t *testing.T) {
	store := newFakeTimerStore()
	rec := &fakeRecorder{err: types.NewAppError(types.ErrCodeInternalContention, "contended", nil)}
	svc := newTestTimerService(store, rec)

	store.timers[timerKey("client_1", "user_adv")] = &types.ActiveTimer{
		ID:            "tmr_1",
		ClientID:      "client_1",
		AdvisorUserID: "user_adv",
		StartedAt:     timerNow.Add(-10 * time.Minute),
	}

	_, err := svc.Stop(context.Background(), "client_1", "user_adv", "")
	assertAppErrorCode(t, err, types.ErrCodeInternalContention)
	assert.Empty(t, store.deleted, "the timer survives a failed recording")
}

func TestElapsedMinutes(t *testing.T) {
	start := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{30 * time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Second, 2},
		{90 * time.Minute, 90},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, elapsedMinutes(start, start.Add(tc.elapsed)), "elapsed %s", tc.elapsed)
	}
}
