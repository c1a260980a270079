package domain

import (
	"fmt"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "open"
	TicketStatusPendingApproval TicketStatus = "pending_approval"
	TicketStatusScheduled       TicketStatus = "scheduled"
	TicketStatusInProgress      TicketStatus = "in_progress"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
	TicketStatusRejected        TicketStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusPendingApproval, TicketStatusScheduled,
		TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed, TicketStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusClosed || s == TicketStatusRejected
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// OriginType identifies what created a ticket.
type OriginType string

const (
	OriginManual  OriginType = "manual"
	OriginForm    OriginType = "form"
	OriginWebhook OriginType = "webhook"
)

// Origin describes the source of a ticket. It is a back-reference only.
type Origin struct {
	Type             OriginType
	ID               *string
	RequiresApproval bool
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID               string
	TicketNumber     int
	Title            string
	Description      string
	Status           TicketStatus
	Priority         TicketPriority
	CategoryID       *string
	RequesterID      string
	AssigneeID       *string
	FormSubmissionID *string
	OriginType       OriginType
	OriginID         *string
	ScheduledAt      *time.Time
	IsPaused         bool
	PausedAt         *time.Time
	PausedDuration   time.Duration
	ClosedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DisplayID renders YYYY/MM/DD/NNN from the business date of CreatedAt.
func (t *Ticket) DisplayID() string {
	return FormatDisplayID(t.TicketNumber, t.CreatedAt)
}

// RoutingID renders YYYYMMDDNNN from the business date of CreatedAt.
func (t *Ticket) RoutingID() string {
	return FormatRoutingID(t.TicketNumber, t.CreatedAt)
}

// FormatDisplayID is the pure form of Ticket.DisplayID.
func FormatDisplayID(number int, createdAt time.Time) string {
	local := createdAt.In(BusinessLocation())
	return fmt.Sprintf("%04d/%02d/%02d/%03d", local.Year(), int(local.Month()), local.Day(), number)
}

// FormatRoutingID is the pure form of Ticket.RoutingID.
func FormatRoutingID(number int, createdAt time.Time) string {
	local := createdAt.In(BusinessLocation())
	return fmt.Sprintf("%04d%02d%02d%03d", local.Year(), int(local.Month()), local.Day(), number)
}

// Elapsed returns the SLA time a ticket has been actively worked at now:
// wall time since creation (up to ClosedAt) minus every paused interval,
// including one still open.
func (t *Ticket) Elapsed(now time.Time) time.Duration {
	end := now
	if t.ClosedAt != nil {
		end = *t.ClosedAt
	}
	elapsed := end.Sub(t.CreatedAt) - t.PausedDuration
	if t.IsPaused && t.PausedAt != nil && end.After(*t.PausedAt) {
		elapsed -= end.Sub(*t.PausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// ElapsedSeconds floors Elapsed to whole seconds.
func (t *Ticket) ElapsedSeconds(now time.Time) int64 {
	return int64(t.Elapsed(now) / time.Second)
}

// ClosePauseInterval folds an open pause into PausedDuration and clears the pause.
// It returns the length of the interval that was closed.
func (t *Ticket) ClosePauseInterval(now time.Time) time.Duration {
	if !t.IsPaused || t.PausedAt == nil {
		t.IsPaused = false
		t.PausedAt = nil
		return 0
	}
	interval := now.Sub(*t.PausedAt)
	if interval < 0 {
		interval = 0
	}
	t.PausedDuration += interval
	t.IsPaused = false
	t.PausedAt = nil
	return interval
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.CategoryID = cloneString(t.CategoryID)
	c.AssigneeID = cloneString(t.AssigneeID)
	c.FormSubmissionID = cloneString(t.FormSubmissionID)
	c.OriginID = cloneString(t.OriginID)
	c.ScheduledAt = cloneTime(t.ScheduledAt)
	c.PausedAt = cloneTime(t.PausedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
