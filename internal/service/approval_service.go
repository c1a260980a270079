package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// ApprovalService gates tickets whose origin requires sign-off.
type ApprovalService struct {
	mutator *ticketMutator
}

// ApprovalDependencies bundles collaborators.
type ApprovalDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
}

// NewApprovalService creates the service.
func NewApprovalService(deps ApprovalDependencies) *ApprovalService {
	return &ApprovalService{mutator: newTicketMutator(deps.Store, deps.Dispatcher, deps.Clock, deps.Logger)}
}

// NeedsApproval reports whether a ticket from origin starts pending approval.
// Only forms and webhooks can require it.
func (s *ApprovalService) NeedsApproval(origin domain.Origin) bool {
	if !origin.RequiresApproval {
		return false
	}
	return origin.Type == domain.OriginForm || origin.Type == domain.OriginWebhook
}

// Approve releases a pending ticket: to scheduled when a schedule was
// requested, otherwise to open.
func (s *ApprovalService) Approve(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		if ticket.Status != domain.TicketStatusPendingApproval {
			return nil, apperrors.NewNotPendingApproval(string(ticket.Status))
		}
		next := domain.TicketStatusOpen
		if ticket.ScheduledAt != nil {
			next = domain.TicketStatusScheduled
		}
		change, err := applyStatus(ticket, next, domain.SourceApproval, now)
		if err != nil {
			return nil, err
		}
		change.note = "Ticket approved; status changed to " + string(next)
		return []ticketChange{change}, nil
	})
}

// Reject closes a pending ticket as rejected.
func (s *ApprovalService) Reject(ctx context.Context, actor domain.Actor, ticketID, reason string) (*domain.Ticket, error) {
	reason = strings.TrimSpace(reason)
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		if ticket.Status != domain.TicketStatusPendingApproval {
			return nil, apperrors.NewNotPendingApproval(string(ticket.Status))
		}
		change, err := applyStatus(ticket, domain.TicketStatusRejected, domain.SourceApproval, now)
		if err != nil {
			return nil, err
		}
		change.note = "Ticket rejected"
		if reason != "" {
			change.note += ": " + reason
			change.newValue["reason"] = reason
			payload := change.payload.(events.TicketStatusChangedPayload)
			payload.Comment = reason
			change.payload = payload
		}
		return []ticketChange{change}, nil
	})
}
