package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// SchedulingService defers tickets to a future time and promotes them when due.
type SchedulingService struct {
	store      repository.Store
	mutator    *ticketMutator
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	batchSize  int
	autoStart  bool
}

// SchedulingDependencies bundles collaborators.
type SchedulingDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger

	// BatchSize caps how many due tickets one sweep promotes.
	BatchSize int
	// AutoStart promotes due tickets straight to in_progress instead of open.
	AutoStart bool
}

// NewSchedulingService creates the service.
func NewSchedulingService(deps SchedulingDependencies) *SchedulingService {
	mutator := newTicketMutator(deps.Store, deps.Dispatcher, deps.Clock, deps.Logger)
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &SchedulingService{
		store:      deps.Store,
		mutator:    mutator,
		dispatcher: deps.Dispatcher,
		clock:      mutator.clock,
		logger:     mutator.logger,
		batchSize:  batch,
		autoStart:  deps.AutoStart,
	}
}

// Schedule defers ticket to when. Open tickets become scheduled, scheduled
// tickets are rescheduled and pending tickets only record the time.
func (s *SchedulingService) Schedule(ctx context.Context, actor domain.Actor, ticketID string, when time.Time) (*domain.Ticket, error) {
	when = when.UTC()
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		if ticket.Status.Terminal() {
			return nil, apperrors.NewInvalidSchedule("ticket is already finished",
				map[string]any{"status": string(ticket.Status)})
		}
		if !when.After(now) {
			return nil, apperrors.NewInvalidSchedule("scheduled_at must be in the future",
				map[string]any{"scheduled_at": when.Format(time.RFC3339)})
		}

		var changes []ticketChange
		switch ticket.Status {
		case domain.TicketStatusOpen:
			change, err := applyStatus(ticket, domain.TicketStatusScheduled, domain.SourceScheduling, now)
			if err != nil {
				return nil, err
			}
			change.note = ""
			changes = append(changes, change)
		case domain.TicketStatusScheduled, domain.TicketStatusPendingApproval:
		default:
			return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusScheduled))
		}

		old := ticket.ScheduledAt
		at := when
		ticket.ScheduledAt = &at
		changes = append(changes, ticketChange{
			field:    domain.ChangeFieldScheduledAt,
			oldValue: map[string]any{"scheduled_at": timeValue(old)},
			newValue: map[string]any{"scheduled_at": timeValue(&at)},
			note:     "Ticket scheduled for " + at.In(domain.BusinessLocation()).Format("2006-01-02 15:04 MST"),
			event:    events.EventTicketScheduled,
			payload:  events.TicketScheduledPayload{ScheduledAt: &at, Status: ticket.Status},
		})
		return changes, nil
	})
}

// Unschedule clears the schedule. Scheduled tickets revert to open; pending
// tickets stay pending.
func (s *SchedulingService) Unschedule(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		if ticket.ScheduledAt == nil {
			return nil, apperrors.NewNotScheduled()
		}
		old := ticket.ScheduledAt

		var changes []ticketChange
		if ticket.Status == domain.TicketStatusScheduled {
			change, err := applyStatus(ticket, domain.TicketStatusOpen, domain.SourceScheduling, now)
			if err != nil {
				return nil, err
			}
			change.note = ""
			changes = append(changes, change)
		}
		ticket.ScheduledAt = nil
		changes = append(changes, ticketChange{
			field:    domain.ChangeFieldScheduledAt,
			oldValue: map[string]any{"scheduled_at": timeValue(old)},
			newValue: map[string]any{"scheduled_at": nil},
			note:     "Schedule cleared; status is " + string(ticket.Status),
			event:    events.EventTicketUnscheduled,
			payload:  events.TicketScheduledPayload{Status: ticket.Status},
		})
		return changes, nil
	})
}

// PromoteDue moves every due scheduled ticket (up to the batch size) to open,
// or to in_progress when auto start is on. Each ticket is promoted by a
// conditional update, so concurrent sweeps promote it exactly once and the
// losers skip it silently. It returns the number of tickets this call promoted.
func (s *SchedulingService) PromoteDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.Tickets().ListDueScheduled(ctx, now, s.batchSize)
	if err != nil {
		return 0, apperrors.MapError(err)
	}

	target := domain.TicketStatusOpen
	if s.autoStart {
		target = domain.TicketStatusInProgress
	}
	actor := domain.SystemActor()

	var (
		promoted int
		errs     []error
	)
	for _, ticket := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.promoteOne(ctx, actor, ticket, target, now)
		if err != nil {
			s.logger.Error("promote scheduled ticket failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			promoted++
		}
	}
	return promoted, errors.Join(errs...)
}

func (s *SchedulingService) promoteOne(ctx context.Context, actor domain.Actor, ticket domain.Ticket, target domain.TicketStatus, now time.Time) (bool, error) {
	if !domain.CanTransition(domain.TicketStatusScheduled, target, domain.SourceSweep) {
		return false, apperrors.NewInvalidTransition(string(domain.TicketStatusScheduled), string(target))
	}
	change := statusChange(domain.TicketStatusScheduled, target, domain.SourceSweep, "")
	change.note = "Scheduled time reached; status changed to " + string(target)

	promoted := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		ok, err := tx.Tickets().PromoteScheduled(ctx, ticket.ID, target, now)
		if err != nil {
			return apperrors.MapError(err)
		}
		if !ok {
			return nil
		}
		promoted = true
		return persistChanges(ctx, tx, actor, ticket.ID, []ticketChange{change}, now)
	})
	if err != nil {
		return false, err
	}
	if promoted {
		s.mutator.publishChanges(ctx, actor, ticket.ID, []ticketChange{change})
		s.logger.Info("scheduled ticket promoted",
			zap.String("ticket_id", ticket.ID),
			zap.String("status", string(target)))
	}
	return promoted, nil
}
