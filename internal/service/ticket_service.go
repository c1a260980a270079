package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const maxTitleLength = 255

// TicketService coordinates ticket workflows and owns the status state machine.
type TicketService struct {
	store      repository.Store
	approval   *ApprovalService
	mutator    *ticketMutator
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Approval   *ApprovalService
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title            string
	Description      string
	Priority         domain.TicketPriority
	CategoryID       *string
	RequesterID      string
	AssigneeID       *string
	FormSubmissionID *string
	ScheduledAt      *time.Time
}

// TicketListFilter describes admin listing filters.
type TicketListFilter struct {
	RequesterID *string
	AssigneeID  *string
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	OriginType  *domain.OriginType
	SearchTerm  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	mutator := newTicketMutator(deps.Store, deps.Dispatcher, deps.Clock, deps.Logger)
	approval := deps.Approval
	if approval == nil {
		approval = NewApprovalService(ApprovalDependencies{Store: deps.Store, Dispatcher: deps.Dispatcher, Clock: deps.Clock, Logger: deps.Logger})
	}
	return &TicketService{
		store:      deps.Store,
		approval:   approval,
		mutator:    mutator,
		dispatcher: deps.Dispatcher,
		clock:      mutator.clock,
		logger:     mutator.logger,
	}
}

// Create validates input, picks the initial status from the origin and the
// requested schedule, allocates the day-scoped number and persists the ticket.
func (s *TicketService) Create(ctx context.Context, input TicketCreateInput, origin domain.Origin) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		ticket, err = s.createInTx(ctx, tx, input, origin)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishCreated(ctx, ticket)
	return ticket, nil
}

func (s *TicketService) createInTx(ctx context.Context, tx repository.Store, input TicketCreateInput, origin domain.Origin) (*domain.Ticket, error) {
	now := s.clock.Now()
	ticket, err := s.buildTicket(input, origin, now)
	if err != nil {
		return nil, err
	}

	number, err := tx.Tickets().NextTicketNumber(ctx, domain.BusinessDay(now))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket.TicketNumber = number

	if err := tx.Tickets().Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	created := ticketChange{
		field: domain.ChangeFieldCreated,
		newValue: map[string]any{
			"status":       string(ticket.Status),
			"priority":     string(ticket.Priority),
			"display_id":   ticket.DisplayID(),
			"origin_type":  string(ticket.OriginType),
			"scheduled_at": timeValue(ticket.ScheduledAt),
		},
	}
	if err := persistChanges(ctx, tx, creatorOf(ticket), ticket.ID, []ticketChange{created}, now); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) buildTicket(input TicketCreateInput, origin domain.Origin, now time.Time) (*domain.Ticket, error) {
	details := map[string]any{}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		details["title"] = "required"
	} else if len([]rune(title)) > maxTitleLength {
		details["title"] = "too long"
	}
	requester := strings.TrimSpace(input.RequesterID)
	if requester == "" {
		details["requester_id"] = "required"
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		details["priority"] = "must be one of low, medium, high, urgent"
	}
	if origin.Type == "" {
		origin.Type = domain.OriginManual
	}
	switch origin.Type {
	case domain.OriginManual, domain.OriginForm, domain.OriginWebhook:
	default:
		details["origin_type"] = "unknown origin"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	ticket := &domain.Ticket{
		ID:               uuid.NewString(),
		Title:            title,
		Description:      input.Description,
		Priority:         priority,
		CategoryID:       input.CategoryID,
		RequesterID:      requester,
		AssigneeID:       input.AssigneeID,
		FormSubmissionID: input.FormSubmissionID,
		OriginType:       origin.Type,
		OriginID:         origin.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if input.ScheduledAt != nil {
		when := input.ScheduledAt.UTC()
		if !when.After(now) {
			return nil, apperrors.NewInvalidSchedule("scheduled_at must be in the future",
				map[string]any{"scheduled_at": when.Format(time.RFC3339)})
		}
		ticket.ScheduledAt = &when
	}

	switch {
	case s.approval.NeedsApproval(origin):
		ticket.Status = domain.TicketStatusPendingApproval
	case ticket.ScheduledAt != nil:
		ticket.Status = domain.TicketStatusScheduled
	default:
		ticket.Status = domain.TicketStatusOpen
	}
	return ticket, nil
}

func (s *TicketService) publishCreated(ctx context.Context, ticket *domain.Ticket) {
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		Actor:     events.ActorFrom(creatorOf(ticket)),
		Timestamp: ticket.CreatedAt,
		Payload: events.TicketCreatedPayload{
			DisplayID:  ticket.DisplayID(),
			Status:     ticket.Status,
			Priority:   ticket.Priority,
			Title:      ticket.Title,
			OriginType: ticket.OriginType,
		},
	})
}

// creatorOf attributes creation to the webhook for webhook tickets and to the
// requester otherwise.
func creatorOf(ticket *domain.Ticket) domain.Actor {
	if ticket.OriginType == domain.OriginWebhook && ticket.OriginID != nil {
		return domain.Actor{Type: domain.ActorTypeWebhook, ID: *ticket.OriginID}
	}
	return domain.Actor{Type: domain.ActorTypeUser, ID: ticket.RequesterID}
}

// UpdateField changes status, priority or assigned_to. A nil or empty value
// unassigns. Status changes must follow a manual edge of the transition table.
func (s *TicketService) UpdateField(ctx context.Context, actor domain.Actor, ticketID string, field domain.TicketChangeField, value *string) (*domain.Ticket, error) {
	switch field {
	case domain.ChangeFieldStatus:
		if value == nil || !domain.TicketStatus(*value).Valid() {
			return nil, apperrors.NewValidationError("invalid status", map[string]any{"value": stringValue(value)})
		}
		return s.changeStatus(ctx, actor, ticketID, domain.TicketStatus(*value))
	case domain.ChangeFieldPriority:
		if value == nil || !domain.TicketPriority(*value).Valid() {
			return nil, apperrors.NewValidationError("invalid priority", map[string]any{"value": stringValue(value)})
		}
		return s.changePriority(ctx, actor, ticketID, domain.TicketPriority(*value))
	case domain.ChangeFieldAssignee:
		var assignee *string
		if value != nil && strings.TrimSpace(*value) != "" {
			trimmed := strings.TrimSpace(*value)
			assignee = &trimmed
		}
		return s.changeAssignee(ctx, actor, ticketID, assignee)
	default:
		return nil, apperrors.NewValidationError("field cannot be updated",
			map[string]any{"field": string(field), "allowed": []string{"status", "priority", "assigned_to"}})
	}
}

// Resolve moves an in-progress ticket to resolved.
func (s *TicketService) Resolve(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.changeStatus(ctx, actor, ticketID, domain.TicketStatusResolved)
}

// Close moves a ticket to closed and stamps closed_at.
func (s *TicketService) Close(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.changeStatus(ctx, actor, ticketID, domain.TicketStatusClosed)
}

func (s *TicketService) changeStatus(ctx context.Context, actor domain.Actor, ticketID string, next domain.TicketStatus) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, now time.Time) ([]ticketChange, error) {
		change, err := applyStatus(ticket, next, domain.SourceManual, now)
		if err != nil {
			return nil, err
		}
		return []ticketChange{change}, nil
	})
}

func (s *TicketService) changePriority(ctx context.Context, actor domain.Actor, ticketID string, next domain.TicketPriority) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, _ time.Time) ([]ticketChange, error) {
		old := ticket.Priority
		if old == next {
			return nil, nil
		}
		ticket.Priority = next
		return []ticketChange{{
			field:    domain.ChangeFieldPriority,
			oldValue: map[string]any{"priority": string(old)},
			newValue: map[string]any{"priority": string(next)},
			note:     "Priority changed from " + string(old) + " to " + string(next),
			event:    events.EventTicketPriorityChanged,
			payload:  events.TicketPriorityChangedPayload{OldPriority: old, NewPriority: next},
		}}, nil
	})
}

func (s *TicketService) changeAssignee(ctx context.Context, actor domain.Actor, ticketID string, next *string) (*domain.Ticket, error) {
	return s.mutator.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, _ time.Time) ([]ticketChange, error) {
		old := ticket.AssigneeID
		if sameString(old, next) {
			return nil, nil
		}
		ticket.AssigneeID = next
		note := "Ticket unassigned"
		if next != nil {
			note = "Ticket assigned to " + *next
		}
		return []ticketChange{{
			field:    domain.ChangeFieldAssignee,
			oldValue: map[string]any{"assigned_to": stringValue(old)},
			newValue: map[string]any{"assigned_to": stringValue(next)},
			note:     note,
			event:    events.EventTicketAssigned,
			payload:  events.TicketAssignedPayload{OldAssigneeID: old, AssigneeID: next},
		}}, nil
	})
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Get returns one ticket.
func (s *TicketService) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, ticketLookupError(ticketID, err)
	}
	return ticket, nil
}

// List returns tickets matching filter, most recently updated first.
func (s *TicketService) List(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	tickets, err := s.store.Tickets().List(ctx, repository.TicketFilter{
		RequesterID: filter.RequesterID,
		AssigneeID:  filter.AssigneeID,
		Statuses:    filter.Statuses,
		Priorities:  filter.Priorities,
		OriginType:  filter.OriginType,
		SearchTerm:  filter.SearchTerm,
		CreatedFrom: filter.CreatedFrom,
		CreatedTo:   filter.CreatedTo,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// History returns the change events of a ticket, oldest first.
func (s *TicketService) History(ctx context.Context, ticketID string) ([]domain.TicketChange, error) {
	if _, err := s.Get(ctx, ticketID); err != nil {
		return nil, err
	}
	changes, err := s.store.History().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return changes, nil
}

// Elapsed returns the SLA time of ticket at now.
func (s *TicketService) Elapsed(ticket *domain.Ticket, now time.Time) time.Duration {
	return ticket.Elapsed(now)
}

// Now exposes the service clock to handlers that render elapsed time.
func (s *TicketService) Now() time.Time {
	return s.clock.Now()
}
