package ledger

import (
	"context"
	"log/slog"
	"time"

	"taxledger/internal/types"
)

// TimerStore is the persistence surface for running timers.
type TimerStore interface {
	Insert(ctx context.Context, t *types.ActiveTimer) error
	Get(ctx context.Context, clientID, advisorUserID string) (*types.ActiveTimer, error)
	Delete(ctx context.Context, timerID string) error
}

// EntryRecorder is the slice of TimeRecorder the timer needs to convert a
// stopped timer into a time entry.
type EntryRecorder interface {
	Record(ctx context.Context, p RecordParams) (*types.TimeEntry, error)
}

// TimerService manages the start/stop timer convenience on top of the
// recording path. At most one timer runs per (client, advisor) pair.
type TimerService struct {
	store    TimerStore
	recorder EntryRecorder
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewTimerService creates a TimerService.
func NewTimerService(store TimerStore, recorder EntryRecorder, logger *slog.Logger) *TimerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerService{
		store:    store,
		recorder: recorder,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Start begins a timer for the (client, advisor) pair. A second start while
// one is running surfaces ErrCodeConflictTimerRunning from the store's
// uniqueness guarantee; the running timer is never silently replaced.
func (s *TimerService) Start(ctx context.Context, clientID, advisorUserID, task string) (*types.ActiveTimer, error) {
	if clientID == "" || advisorUserID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and advisor are required", nil)
	}
	timer := &types.ActiveTimer{
		ID:            types.NewID(types.IDPrefixTimer),
		ClientID:      clientID,
		AdvisorUserID: advisorUserID,
		StartedAt:     s.nowFn().UTC(),
		Task:          task,
	}
	if err := s.store.Insert(ctx, timer); err != nil {
		return nil, err
	}
	return timer, nil
}

// Stop ends the running timer, records its elapsed time as a billable entry
// (rounded up to whole minutes, one minute minimum), and removes the timer
// row. A non-empty task replaces the one captured at start on the recorded
// entry. The record and the removal are two separate writes: if the removal
// fails after the entry committed, the timer survives and a later stop would
// record the span again. The error return makes that state visible to the
// caller instead of hiding it.
func (s *TimerService) Stop(ctx context.Context, clientID, advisorUserID, task string) (*types.TimeEntry, error) {
	if clientID == "" || advisorUserID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and advisor are required", nil)
	}

	timer, err := s.store.Get(ctx, clientID, advisorUserID)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()
	minutes := elapsedMinutes(timer.StartedAt, now)

	if task == "" {
		task = timer.Task
	}

	entry, err := s.recorder.Record(ctx, RecordParams{
		ClientID:      clientID,
		AdvisorUserID: advisorUserID,
		WorkedAt:      now,
		Minutes:       minutes,
		Task:          task,
		IsBillable:    true,
		Source:        types.SourceTimer,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, timer.ID); err != nil {
		s.logger.ErrorContext(ctx, "timer row left behind after entry was recorded",
			"timer_id", timer.ID,
			"entry_id", entry.ID,
			"client_id", clientID,
		)
		return entry, err
	}
	return entry, nil
}

// GetActive returns the running timer for the pair, or ErrCodeNotFoundTimer.
func (s *TimerService) GetActive(ctx context.Context, clientID, advisorUserID string) (*types.ActiveTimer, error) {
	if clientID == "" || advisorUserID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client and advisor are required", nil)
	}
	return s.store.Get(ctx, clientID, advisorUserID)
}

// elapsedMinutes rounds the span up to whole minutes, never below one.
func elapsedMinutes(start, end time.Time) int {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 1
	}
	minutes := int((elapsed + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
