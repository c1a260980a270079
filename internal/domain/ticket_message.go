package domain

import "time"

// ActorType indicates who performed an action or authored a message.
type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeSystem  ActorType = "system"
	ActorTypeWebhook ActorType = "webhook"
)

// Role is the caller role carried by admin API tokens.
type Role string

const (
	RoleRequester Role = "requester"
	RoleAgent     Role = "agent"
	RoleAdmin     Role = "admin"
)

// Privileged reports whether the role may edit other authors' messages.
func (r Role) Privileged() bool {
	return r == RoleAdmin
}

// SystemAuthorID is the synthetic author of state machine messages.
const SystemAuthorID = "system"

// Actor identifies the caller of a ticket operation.
type Actor struct {
	Type ActorType
	ID   string
	Role Role
}

// SystemActor is used for scheduler and webhook driven changes.
func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem, ID: SystemAuthorID}
}

// IDPtr returns a pointer to the actor id, nil for the system actor.
func (a Actor) IDPtr() *string {
	if a.Type == ActorTypeSystem || a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

// TicketMessage captures communications in a ticket thread.
type TicketMessage struct {
	ID          string
	TicketID    string
	AuthorType  ActorType
	AuthorID    string
	Body        string
	Attachments []Attachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Edited reports whether the body changed after posting.
func (m *TicketMessage) Edited() bool {
	return m.UpdatedAt.After(m.CreatedAt)
}

// IsSystem reports whether the state machine generated the message.
func (m *TicketMessage) IsSystem() bool {
	return m.AuthorType == ActorTypeSystem
}

// Attachment stores metadata for ticket message attachments.
type Attachment struct {
	ID         string
	MessageID  string
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
	Position   int
	CreatedAt  time.Time
}
