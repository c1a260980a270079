package domain

import "time"

// TicketChangeField captures what changed in a history entry.
type TicketChangeField string

const (
	ChangeFieldCreated     TicketChangeField = "created"
	ChangeFieldStatus      TicketChangeField = "status"
	ChangeFieldPriority    TicketChangeField = "priority"
	ChangeFieldAssignee    TicketChangeField = "assigned_to"
	ChangeFieldScheduledAt TicketChangeField = "scheduled_at"
	ChangeFieldPaused      TicketChangeField = "paused"
)

// TicketChange is the structured event emitted for every ticket mutation.
// Rows are immutable once written.
type TicketChange struct {
	ID        string
	TicketID  string
	ActorType ActorType
	ActorID   *string
	Field     TicketChangeField
	OldValue  map[string]any
	NewValue  map[string]any
	CreatedAt time.Time
}
