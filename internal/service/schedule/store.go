// Package schedule holds the scheduling dialogue state shared by the text
// and voice input paths. The backend decides every transition; the store
// only carries the latest snapshot.
package schedule

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
	"voice-support-client/internal/observability/metrics"
)

// Booker is the direct booking surface of the backend.
type Booker interface {
	AvailableTimes(ctx context.Context) ([]string, error)
	ScheduleSupportCall(ctx context.Context, req models.BookingRequest) (*models.BookingConfirmation, error)
}

// Store is the single shared reference to the scheduling state.
type Store struct {
	booker  Booker
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	state     *models.ScheduleState
	listeners []func(*models.ScheduleState)
}

// NewStore creates an empty store.
func NewStore(booker Booker) *Store {
	return &Store{
		booker:  booker,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("schedule"),
	}
}

// Snapshot returns a copy of the current state, or nil when no dialogue is
// active. Requests must take the snapshot at the moment they are issued.
func (s *Store) Snapshot() *models.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Active reports whether a scheduling dialogue is in progress.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil
}

// Subscribe registers fn to receive every change.
func (s *Store) Subscribe(fn func(*models.ScheduleState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Apply takes the scheduling outcome of a reply. A reply carrying a
// schedule_state replaces the current state wholesale; an absent or
// inactive state discards it. A scheduling trigger without a state opens
// the dialogue at offering. It reports whether the state changed.
func (s *Store) Apply(reply *models.Reply) bool {
	if reply == nil {
		return false
	}

	s.mu.Lock()
	prev := s.state
	var next *models.ScheduleState
	switch {
	case reply.ScheduleUpdate:
		next = reply.ScheduleState.Clone()
		if next != nil && !next.Active {
			next = nil
		}
	case reply.TriggerSchedule && prev == nil:
		next = &models.ScheduleState{Active: true, Stage: models.StageOffering}
	default:
		s.mu.Unlock()
		return false
	}

	if prev != nil && next != nil && !prev.Stage.CanAdvanceTo(next.Stage) {
		s.logger.Warn().
			Str("from", string(prev.Stage)).
			Str("to", string(next.Stage)).
			Msg("Backend moved the scheduling dialogue out of order")
	}
	s.state = next
	listeners := append([]func(*models.ScheduleState){}, s.listeners...)
	s.mu.Unlock()

	stage := "discarded"
	if next != nil {
		stage = string(next.Stage)
	}
	s.metrics.RecordScheduleStage(stage)
	s.logger.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("Scheduling state replaced")

	for _, fn := range listeners {
		fn(next.Clone())
	}
	return true
}

// Reset discards the dialogue.
func (s *Store) Reset() {
	s.Apply(&models.Reply{ScheduleUpdate: true})
}

// AvailableTimes lists bookable support call slots.
func (s *Store) AvailableTimes(ctx context.Context) ([]string, error) {
	return s.booker.AvailableTimes(ctx)
}

// Book books a support call directly, outside the dialogue.
func (s *Store) Book(ctx context.Context, req models.BookingRequest) (*models.BookingConfirmation, error) {
	conf, err := s.booker.ScheduleSupportCall(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("datetime", req.DateTime).Msg("Support call booked")
	return conf, nil
}
