package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// PauseService stops and restarts the SLA clock of in-progress tickets.
type PauseService struct {
	mutator *ticketMutator
}

// PauseDependencies bundles collaborators.
type PauseDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
}

// NewPauseService creates the service.
func NewPauseService(deps PauseDependencies) *PauseService {
	return &PauseService{mutator: newTicketMutator(deps.Store, deps.Dispatcher, deps.Clock, deps.Logger)}
}

// Pause opens a pause interval on an in-progress ticket.
func (s *PauseService) Pause(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		if ticket.Status != domain.TicketStatusInProgress || ticket.IsPaused {
			return nil, apperrors.NewInvalidPauseState(string(ticket.Status), ticket.IsPaused)
		}
		pausedAt := now
		ticket.IsPaused = true
		ticket.PausedAt = &pausedAt
		return []ticketChange{{
			field:    domain.ChangeFieldPaused,
			oldValue: map[string]any{"is_paused": false},
			newValue: map[string]any{"is_paused": true, "paused_at": timeValue(&pausedAt)},
			note:     "SLA clock paused",
			event:    events.EventTicketPaused,
			payload: events.TicketPausePayload{
				PausedAt:              &pausedAt,
				PausedDurationSeconds: int64(ticket.PausedDuration / time.Second),
			},
		}}, nil
	})
}

// Resume closes the open pause interval and adds it to paused_duration.
func (s *PauseService) Resume(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		if !ticket.IsPaused {
			return nil, apperrors.NewNotPaused()
		}
		pausedAt := ticket.PausedAt
		interval := ticket.ClosePauseInterval(now)
		return []ticketChange{{
			field:    domain.ChangeFieldPaused,
			oldValue: map[string]any{"is_paused": true, "paused_at": timeValue(pausedAt)},
			newValue: map[string]any{"is_paused": false, "paused_seconds": int64(interval / time.Second)},
			note:     "SLA clock resumed after " + interval.Truncate(time.Second).String(),
			event:    events.EventTicketResumed,
			payload: events.TicketPausePayload{
				PausedDurationSeconds: int64(ticket.PausedDuration / time.Second),
			},
		}}, nil
	})
}

// Elapsed returns the SLA time of ticket at now, excluding paused intervals.
func (s *PauseService) Elapsed(ticket *domain.Ticket, now time.Time) time.Duration {
	return ticket.Elapsed(now)
}

// ElapsedSeconds floors Elapsed to whole seconds.
func (s *PauseService) ElapsedSeconds(ticket *domain.Ticket, now time.Time) int64 {
	return ticket.ElapsedSeconds(now)
}
