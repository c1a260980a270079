package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// ticketChange is one field change produced by a guarded mutation.
type ticketChange struct {
	field    domain.TicketChangeField
	oldValue map[string]any
	newValue map[string]any
	note     string
	event    events.EventType
	payload  any
}

// mutationFunc validates and applies a change to a locked ticket. Returning
// no changes makes the mutation a no-op.
type mutationFunc func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error)

// ticketMutator runs mutations under a row lock and publishes their events
// after commit.
type ticketMutator struct {
	store      repository.Store
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

func newTicketMutator(store repository.Store, dispatcher events.Dispatcher, clk clock.Clock, logger *zap.Logger) *ticketMutator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ticketMutator{store: store, dispatcher: dispatcher, clock: clk, logger: logger}
}

func (m *ticketMutator) mutate(ctx context.Context, actor domain.Actor, ticketID string, apply mutationFunc) (*domain.Ticket, error) {
	var (
		result  *domain.Ticket
		changes []ticketChange
	)
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		ticket, err := lockTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		now := m.clock.Now()
		changes, err = apply(ticket, now)
		if err != nil {
			return err
		}
		result = ticket
		if len(changes) == 0 {
			return nil
		}
		ticket.UpdatedAt = now
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		return persistChanges(ctx, tx, actor, ticket.ID, changes, now)
	})
	if err != nil {
		return nil, err
	}
	m.publishChanges(ctx, actor, result.ID, changes)
	return result, nil
}

func (m *ticketMutator) publishChanges(ctx context.Context, actor domain.Actor, ticketID string, changes []ticketChange) {
	for _, change := range changes {
		if change.event == "" {
			continue
		}
		publishEvent(ctx, m.dispatcher, m.logger, events.Event{
			Type:      change.event,
			TicketID:  ticketID,
			Actor:     events.ActorFrom(actor),
			Timestamp: m.clock.Now(),
			Payload:   change.payload,
		})
	}
}

// persistChanges writes one history row per change and the system message
// describing it, inside the caller's transaction.
func persistChanges(ctx context.Context, tx repository.Store, actor domain.Actor, ticketID string, changes []ticketChange, now time.Time) error {
	for _, change := range changes {
		entry := &domain.TicketChange{
			ID:        uuid.NewString(),
			TicketID:  ticketID,
			ActorType: actor.Type,
			ActorID:   actor.IDPtr(),
			Field:     change.field,
			OldValue:  change.oldValue,
			NewValue:  change.newValue,
			CreatedAt: now,
		}
		if err := tx.History().Create(ctx, entry); err != nil {
			return apperrors.MapError(err)
		}
		if change.note == "" {
			continue
		}
		if _, err := writeSystemMessage(ctx, tx, ticketID, change.note, now); err != nil {
			return err
		}
	}
	return nil
}

// applyStatus moves ticket to next if source may take that edge, keeping the
// pause, schedule and closure fields consistent with the new status.
func applyStatus(ticket *domain.Ticket, next domain.TicketStatus, source domain.TransitionSource, now time.Time) (ticketChange, error) {
	current := ticket.Status
	if !domain.CanTransition(current, next, source) {
		return ticketChange{}, apperrors.NewInvalidTransition(string(current), string(next))
	}
	if current == domain.TicketStatusInProgress && ticket.IsPaused {
		ticket.ClosePauseInterval(now)
	}
	if current == domain.TicketStatusScheduled {
		ticket.ScheduledAt = nil
	}
	if next == domain.TicketStatusClosed || next == domain.TicketStatusRejected {
		closed := now
		ticket.ClosedAt = &closed
	}
	ticket.Status = next
	return statusChange(current, next, source, ""), nil
}

func statusChange(from, to domain.TicketStatus, source domain.TransitionSource, comment string) ticketChange {
	note := fmt.Sprintf("Status changed from %s to %s", from, to)
	if comment != "" {
		note += ": " + comment
	}
	return ticketChange{
		field:    domain.ChangeFieldStatus,
		oldValue: map[string]any{"status": string(from)},
		newValue: map[string]any{"status": string(to)},
		note:     note,
		event:    events.EventTicketStatusChanged,
		payload: events.TicketStatusChangedPayload{
			OldStatus: from,
			NewStatus: to,
			Source:    source,
			Comment:   comment,
		},
	}
}

func lockTicket(ctx context.Context, tx repository.Store, ticketID string) (*domain.Ticket, error) {
	ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
	if err != nil {
		return nil, ticketLookupError(ticketID, err)
	}
	return ticket, nil
}

func ticketLookupError(ticketID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPreview(input string, limit int) string {
	runes := []rune(input)
	if len(runes) <= limit {
		return input
	}
	return string(runes[:limit]) + "..."
}
