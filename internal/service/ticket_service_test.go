package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func TestTicketService_CreateOpen(t *testing.T) {
	h := newHarness(t)

	ticket := h.createTicket(t, TicketCreateInput{Title: "  VPN down  ", Description: "cannot connect"})

	assert.Equal(t, "VPN down", ticket.Title)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, domain.OriginManual, ticket.OriginType)
	assert.Equal(t, 1, ticket.TicketNumber)
	assert.Equal(t, "2024/03/15/001", ticket.DisplayID())
	assert.Equal(t, "20240315001", ticket.RoutingID())
	assert.Equal(t, ticket.CreatedAt, ticket.UpdatedAt)

	second := h.createTicket(t, TicketCreateInput{})
	assert.Equal(t, 2, second.TicketNumber)

	created := h.events.OfType(events.EventTicketCreated)
	require.Len(t, created, 2)
	assert.Equal(t, ticket.ID, created[0].TicketID)

	history, err := h.tickets.History(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ChangeFieldCreated, history[0].Field)
	assert.Equal(t, "requester-1", *history[0].ActorID)
}

func TestTicketService_NumberResetsPerBusinessDay(t *testing.T) {
	h := newHarness(t)

	first := h.createTicket(t, TicketCreateInput{})
	// 02:30 UTC on the 16th is still the 15th in Sao Paulo.
	h.clock.Set(time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC))
	sameDay := h.createTicket(t, TicketCreateInput{})
	h.clock.Set(time.Date(2024, 3, 16, 3, 30, 0, 0, time.UTC))
	nextDay := h.createTicket(t, TicketCreateInput{})

	assert.Equal(t, "2024/03/15/001", first.DisplayID())
	assert.Equal(t, "2024/03/15/002", sameDay.DisplayID())
	assert.Equal(t, "2024/03/16/001", nextDay.DisplayID())
}

func TestTicketService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input TicketCreateInput
		code  string
	}{
		{"missing title", TicketCreateInput{RequesterID: "r"}, apperrors.CodeValidation},
		{"missing requester", TicketCreateInput{Title: "t"}, apperrors.CodeValidation},
		{"bad priority", TicketCreateInput{Title: "t", RequesterID: "r", Priority: "critical"}, apperrors.CodeValidation},
		{"past schedule", TicketCreateInput{Title: "t", RequesterID: "r", ScheduledAt: ptr(baseTime.Add(-time.Minute))}, apperrors.CodeInvalidSchedule},
		{"schedule at now", TicketCreateInput{Title: "t", RequesterID: "r", ScheduledAt: ptr(baseTime)}, apperrors.CodeInvalidSchedule},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.tickets.Create(ctx, tc.input, domain.Origin{})
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "got %v", err)
		})
	}
	assert.Zero(t, h.store.TicketCount())
}

func TestTicketService_CreateInitialStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	future := baseTime.Add(2 * time.Hour)
	formID := "form-9"

	scheduled := h.createTicket(t, TicketCreateInput{ScheduledAt: &future})
	assert.Equal(t, domain.TicketStatusScheduled, scheduled.Status)
	assert.True(t, scheduled.ScheduledAt.Equal(future))

	pending, err := h.tickets.Create(ctx, TicketCreateInput{Title: "t", RequesterID: "r", ScheduledAt: &future},
		domain.Origin{Type: domain.OriginForm, ID: &formID, RequiresApproval: true})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPendingApproval, pending.Status)
	assert.NotNil(t, pending.ScheduledAt)

	// Manual origins never need approval.
	manual, err := h.tickets.Create(ctx, TicketCreateInput{Title: "t", RequesterID: "r"},
		domain.Origin{Type: domain.OriginManual, RequiresApproval: true})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, manual.Status)
}

func TestTicketService_StatusTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, TicketCreateInput{})

	_, err := h.tickets.Resolve(ctx, agent, ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	_, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldStatus, ptr("rejected"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "rejection is only reachable through approval")

	h.clock.Advance(time.Minute)
	updated, err := h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldStatus, ptr("in_progress"))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	h.clock.Advance(time.Minute)
	updated, err = h.tickets.Resolve(ctx, agent, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)
	assert.Nil(t, updated.ClosedAt)

	h.clock.Advance(time.Minute)
	updated, err = h.tickets.Close(ctx, agent, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, updated.Status)
	require.NotNil(t, updated.ClosedAt)
	assert.True(t, updated.ClosedAt.Equal(h.clock.Now()))

	_, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldStatus, ptr("open"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	assert.Equal(t, []string{
		"Status changed from open to in_progress",
		"Status changed from in_progress to resolved",
		"Status changed from resolved to closed",
	}, h.systemMessages(t, ticket.ID))
	assert.Len(t, h.events.OfType(events.EventTicketStatusChanged), 3)

	history, err := h.tickets.History(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestTicketService_ClosingPausedTicketFoldsPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.inProgressTicket(t)

	h.clock.Advance(10 * time.Minute)
	_, err := h.pause.Pause(ctx, agent, ticket.ID)
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)

	closed, err := h.tickets.Close(ctx, agent, ticket.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsPaused)
	assert.Nil(t, closed.PausedAt)
	assert.Equal(t, 5*time.Minute, closed.PausedDuration)

	// The clock stops at closed_at and never accrues more paused time.
	h.clock.Advance(time.Hour)
	assert.Equal(t, 10*time.Minute, closed.Elapsed(h.clock.Now()))
}

func TestTicketService_ResolvePausedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.inProgressTicket(t)

	h.clock.Advance(time.Minute)
	_, err := h.pause.Pause(ctx, agent, ticket.ID)
	require.NoError(t, err)
	h.clock.Advance(3 * time.Minute)

	resolved, err := h.tickets.Resolve(ctx, agent, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
	assert.False(t, resolved.IsPaused)
	assert.Equal(t, 3*time.Minute, resolved.PausedDuration)

	before := resolved.Elapsed(h.clock.Now())
	h.clock.Advance(time.Hour)
	assert.Equal(t, before+time.Hour, resolved.Elapsed(h.clock.Now()))

	_, err = h.pause.Resume(ctx, agent, ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotPaused))
}

func TestTicketService_UpdatePriorityAndAssignee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, TicketCreateInput{})

	updated, err := h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldPriority, ptr("urgent"))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)

	// Same value is a no-op without an event.
	_, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldPriority, ptr("urgent"))
	require.NoError(t, err)
	assert.Len(t, h.events.OfType(events.EventTicketPriorityChanged), 1)

	h.clock.Advance(time.Second)
	updated, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldAssignee, ptr("agent-7"))
	require.NoError(t, err)
	require.NotNil(t, updated.AssigneeID)
	assert.Equal(t, "agent-7", *updated.AssigneeID)

	h.clock.Advance(time.Second)
	updated, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldAssignee, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.AssigneeID)

	_, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldPriority, ptr("whenever"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = h.tickets.UpdateField(ctx, agent, ticket.ID, domain.ChangeFieldScheduledAt, ptr("2030-01-01"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	assert.Equal(t, []string{
		"Priority changed from medium to urgent",
		"Ticket assigned to agent-7",
		"Ticket unassigned",
	}, h.systemMessages(t, ticket.ID))

	assigned := h.events.OfType(events.EventTicketAssigned)
	require.Len(t, assigned, 2)
	require.NotNil(t, assigned[0].Actor.ID)
	assert.Equal(t, "agent-1", *assigned[0].Actor.ID)
}

func TestTicketService_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.tickets.Get(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	_, err = h.tickets.Close(ctx, agent, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestTicketService_List(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.createTicket(t, TicketCreateInput{Title: "Laptop broken", Priority: domain.TicketPriorityHigh})
	h.clock.Advance(time.Second)
	h.createTicket(t, TicketCreateInput{Title: "New monitor", RequesterID: "requester-2"})

	all, err := h.tickets.List(ctx, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	high, err := h.tickets.List(ctx, TicketListFilter{Priorities: []domain.TicketPriority{domain.TicketPriorityHigh}})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, a.ID, high[0].ID)

	search, err := h.tickets.List(ctx, TicketListFilter{SearchTerm: ptr("monitor")})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "requester-2", search[0].RequesterID)
}
