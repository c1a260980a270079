package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest payload. RequiresApproval only applies to tickets
// submitted through a form (form_submission_id set).
type CreateTicketRequest struct {
	Title            string                `json:"title" validate:"required,max=255"`
	Description      string                `json:"description"`
	Priority         domain.TicketPriority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	CategoryID       *string               `json:"category_id"`
	RequesterID      string                `json:"requester_id"`
	AssigneeID       *string               `json:"assigned_to"`
	FormSubmissionID *string               `json:"form_submission_id"`
	RequiresApproval bool                  `json:"requires_approval"`
	ScheduledAt      *time.Time            `json:"scheduled_at"`
}

// UpdateTicketRequest changes a single field.
type UpdateTicketRequest struct {
	Field string  `json:"field" validate:"required,oneof=status priority assigned_to"`
	Value *string `json:"value"`
}

// RejectTicketRequest payload.
type RejectTicketRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ScheduleTicketRequest payload.
type ScheduleTicketRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at" validate:"required"`
}

// TicketResponse is the admin representation of a ticket.
type TicketResponse struct {
	ID             string                `json:"id"`
	TicketNumber   int                   `json:"ticket_number"`
	DisplayID      string                `json:"display_id"`
	RoutingID      string                `json:"routing_id"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Status         domain.TicketStatus   `json:"status"`
	Priority       domain.TicketPriority `json:"priority"`
	CategoryID     *string               `json:"category_id"`
	RequesterID    string                `json:"requester_id"`
	AssigneeID     *string               `json:"assigned_to"`
	OriginType     domain.OriginType     `json:"origin_type"`
	OriginID       *string               `json:"origin_id"`
	ScheduledAt    *time.Time            `json:"scheduled_at"`
	IsPaused       bool                  `json:"is_paused"`
	PausedAt       *time.Time            `json:"paused_at"`
	ElapsedSeconds int64                 `json:"elapsed_seconds"`
	ClosedAt       *time.Time            `json:"closed_at"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// TicketHistoryResponse is one change row.
type TicketHistoryResponse struct {
	ID        string                   `json:"id"`
	Field     domain.TicketChangeField `json:"field"`
	ActorType domain.ActorType         `json:"actor_type"`
	ActorID   *string                  `json:"actor_id"`
	OldValue  map[string]any           `json:"old_value"`
	NewValue  map[string]any           `json:"new_value"`
	CreatedAt time.Time                `json:"created_at"`
}

// NewTicketResponse maps a ticket, computing elapsed time at now.
func NewTicketResponse(ticket *domain.Ticket, now time.Time) TicketResponse {
	return TicketResponse{
		ID:             ticket.ID,
		TicketNumber:   ticket.TicketNumber,
		DisplayID:      ticket.DisplayID(),
		RoutingID:      ticket.RoutingID(),
		Title:          ticket.Title,
		Description:    ticket.Description,
		Status:         ticket.Status,
		Priority:       ticket.Priority,
		CategoryID:     ticket.CategoryID,
		RequesterID:    ticket.RequesterID,
		AssigneeID:     ticket.AssigneeID,
		OriginType:     ticket.OriginType,
		OriginID:       ticket.OriginID,
		ScheduledAt:    ticket.ScheduledAt,
		IsPaused:       ticket.IsPaused,
		PausedAt:       ticket.PausedAt,
		ElapsedSeconds: ticket.ElapsedSeconds(now),
		ClosedAt:       ticket.ClosedAt,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
	}
}

// NewHistoryResponses maps change rows.
func NewHistoryResponses(entries []domain.TicketChange) []TicketHistoryResponse {
	resp := make([]TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, TicketHistoryResponse{
			ID:        entry.ID,
			Field:     entry.Field,
			ActorType: entry.ActorType,
			ActorID:   entry.ActorID,
			OldValue:  entry.OldValue,
			NewValue:  entry.NewValue,
			CreatedAt: entry.CreatedAt,
		})
	}
	return resp
}
