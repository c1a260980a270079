package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
)

// TicketsHandler manages ticket lifecycle endpoints.
type TicketsHandler struct {
	tickets    *service.TicketService
	approval   *service.ApprovalService
	scheduling *service.SchedulingService
	pause      *service.PauseService
}

// TicketServices bundles the services behind ticket routes.
type TicketServices struct {
	Tickets    *service.TicketService
	Approval   *service.ApprovalService
	Scheduling *service.SchedulingService
	Pause      *service.PauseService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(svc TicketServices) *TicketsHandler {
	return &TicketsHandler{
		tickets:    svc.Tickets,
		approval:   svc.Approval,
		scheduling: svc.Scheduling,
		pause:      svc.Pause,
	}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	requester := strings.TrimSpace(req.RequesterID)
	if requester == "" {
		requester = actor.ID
	}
	origin := domain.Origin{Type: domain.OriginManual, RequiresApproval: req.RequiresApproval}
	if req.FormSubmissionID != nil && *req.FormSubmissionID != "" {
		origin.Type = domain.OriginForm
		origin.ID = req.FormSubmissionID
	}

	ticket, err := h.tickets.Create(c.UserContext(), service.TicketCreateInput{
		Title:            req.Title,
		Description:      req.Description,
		Priority:         req.Priority,
		CategoryID:       req.CategoryID,
		RequesterID:      requester,
		AssigneeID:       req.AssigneeID,
		FormSubmissionID: req.FormSubmissionID,
		ScheduledAt:      req.ScheduledAt,
	}, origin)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": h.response(ticket)})
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	tickets, err := h.tickets.List(c.UserContext(), parseTicketQuery(c))
	if err != nil {
		return err
	}
	now := h.tickets.Now()
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i], now))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(ticket)})
}

// History GET /api/tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.tickets.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryResponses(entries)})
}

// UpdateTicket PATCH /api/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.UpdateField(c.UserContext(), actor, c.Params("id"), domain.TicketChangeField(req.Field), req.Value)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(ticket)})
}

// Resolve POST /api/tickets/:id/resolve.
func (h *TicketsHandler) Resolve(c *fiber.Ctx) error {
	return h.act(c, h.tickets.Resolve)
}

// Close POST /api/tickets/:id/close.
func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	return h.act(c, h.tickets.Close)
}

// Approve POST /api/tickets/:id/approve.
func (h *TicketsHandler) Approve(c *fiber.Ctx) error {
	return h.act(c, h.approval.Approve)
}

// Reject POST /api/tickets/:id/reject.
func (h *TicketsHandler) Reject(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.RejectTicketRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}
	ticket, err := h.approval.Reject(c.UserContext(), actor, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(ticket)})
}

// Pause POST /api/tickets/:id/pause.
func (h *TicketsHandler) Pause(c *fiber.Ctx) error {
	return h.act(c, h.pause.Pause)
}

// Resume POST /api/tickets/:id/resume.
func (h *TicketsHandler) Resume(c *fiber.Ctx) error {
	return h.act(c, h.pause.Resume)
}

// Schedule POST /api/tickets/:id/schedule.
func (h *TicketsHandler) Schedule(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ScheduleTicketRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ticket, err := h.scheduling.Schedule(c.UserContext(), actor, c.Params("id"), *req.ScheduledAt)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(ticket)})
}

// Unschedule DELETE /api/tickets/:id/schedule.
func (h *TicketsHandler) Unschedule(c *fiber.Ctx) error {
	return h.act(c, h.scheduling.Unschedule)
}

type ticketAction func(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error)

func (h *TicketsHandler) act(c *fiber.Ctx, action ticketAction) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := action(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(ticket)})
}

func (h *TicketsHandler) response(ticket *domain.Ticket) dto.TicketResponse {
	return dto.NewTicketResponse(ticket, h.tickets.Now())
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.TrimSpace(part)))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			filter.Priorities = append(filter.Priorities, domain.TicketPriority(strings.TrimSpace(part)))
		}
	}
	if requester := c.Query("requester_id"); requester != "" {
		filter.RequesterID = &requester
	}
	if assignee := c.Query("assigned_to"); assignee != "" {
		filter.AssigneeID = &assignee
	}
	if origin := c.Query("origin_type"); origin != "" {
		originType := domain.OriginType(origin)
		filter.OriginType = &originType
	}
	if q := c.Query("q"); q != "" {
		filter.SearchTerm = &q
	}
	filter.CreatedFrom = parseTime(c.Query("created_from"))
	filter.CreatedTo = parseTime(c.Query("created_to"))
	filter.Limit, filter.Offset = pagination(c)
	return filter
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}
