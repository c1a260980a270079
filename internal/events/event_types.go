package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketScheduled       EventType = "ticket_scheduled"
	EventTicketUnscheduled     EventType = "ticket_unscheduled"
	EventTicketPaused          EventType = "ticket_paused"
	EventTicketResumed         EventType = "ticket_resumed"
	EventTicketMessageAdded    EventType = "ticket_message_added"
	EventTicketMessageEdited   EventType = "ticket_message_edited"
	EventTicketMessageDeleted  EventType = "ticket_message_deleted"
	EventWebhookReceived       EventType = "webhook_received"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.ActorType `json:"type"`
	ID   *string          `json:"id,omitempty"`
}

// ActorFrom converts a domain actor into event metadata.
func ActorFrom(a domain.Actor) Actor {
	return Actor{Type: a.Type, ID: a.IDPtr()}
}

// Event represents a domain event emitted by services after commit.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	DisplayID  string                `json:"display_id"`
	Status     domain.TicketStatus   `json:"status"`
	Priority   domain.TicketPriority `json:"priority"`
	Title      string                `json:"title"`
	OriginType domain.OriginType     `json:"origin_type"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus     `json:"old_status"`
	NewStatus domain.TicketStatus     `json:"new_status"`
	Source    domain.TransitionSource `json:"source"`
	Comment   string                  `json:"comment,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OldAssigneeID *string `json:"old_assignee_id,omitempty"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
}

// TicketScheduledPayload payload. ScheduledAt is nil when a schedule is cleared.
type TicketScheduledPayload struct {
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	Status      domain.TicketStatus `json:"status"`
}

// TicketPausePayload payload for pause and resume.
type TicketPausePayload struct {
	PausedAt              *time.Time `json:"paused_at,omitempty"`
	PausedDurationSeconds int64      `json:"paused_duration_seconds"`
}

// TicketMessagePayload payload for message lifecycle events.
type TicketMessagePayload struct {
	MessageID   string           `json:"message_id"`
	AuthorType  domain.ActorType `json:"author_type"`
	AuthorID    string           `json:"author_id"`
	BodyPreview string           `json:"body_preview,omitempty"`
	Attachments int              `json:"attachments"`
}

// WebhookReceivedPayload payload.
type WebhookReceivedPayload struct {
	WebhookID string                       `json:"webhook_id"`
	Status    domain.WebhookLogStatus      `json:"status"`
	Reason    *domain.WebhookFailureReason `json:"reason,omitempty"`
}
