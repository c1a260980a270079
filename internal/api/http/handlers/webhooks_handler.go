package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/service"
)

// WebhooksHandler manages webhook registry endpoints.
type WebhooksHandler struct {
	service *service.WebhookService
}

// NewWebhooksHandler constructs handler.
func NewWebhooksHandler(webhookService *service.WebhookService) *WebhooksHandler {
	return &WebhooksHandler{service: webhookService}
}

// CreateWebhook POST /api/webhooks.
func (h *WebhooksHandler) CreateWebhook(c *fiber.Ctx) error {
	var req dto.CreateWebhookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	webhook, err := h.service.Create(c.UserContext(), service.WebhookCreateInput{
		Name:             req.Name,
		SecretKey:        req.SecretKey,
		Active:           req.Active,
		RequiresApproval: req.RequiresApproval,
		DefaultPriority:  req.DefaultPriority,
		DefaultCategory:  req.DefaultCategory,
		DefaultAssignee:  req.DefaultAssignee,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewWebhookResponse(webhook)})
}

// ListWebhooks GET /api/webhooks.
func (h *WebhooksHandler) ListWebhooks(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	webhooks, err := h.service.List(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.WebhookResponse, 0, len(webhooks))
	for i := range webhooks {
		items = append(items, dto.NewWebhookResponse(&webhooks[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetWebhook GET /api/webhooks/:id.
func (h *WebhooksHandler) GetWebhook(c *fiber.Ctx) error {
	webhook, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWebhookResponse(webhook)})
}

// UpdateWebhook PATCH /api/webhooks/:id.
func (h *WebhooksHandler) UpdateWebhook(c *fiber.Ctx) error {
	var req dto.UpdateWebhookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	input := service.WebhookUpdateInput{
		Name:             req.Name,
		SecretKey:        req.SecretKey,
		Active:           req.Active,
		RequiresApproval: req.RequiresApproval,
		DefaultPriority:  req.DefaultPriority,
		DefaultCategory:  req.DefaultCategory,
		DefaultAssignee:  req.DefaultAssignee,
	}
	if req.SecretKey != nil && *req.SecretKey == "" {
		input.SecretKey = nil
		input.ClearSecret = true
	}
	webhook, err := h.service.Update(c.UserContext(), c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWebhookResponse(webhook)})
}

// DeleteWebhook DELETE /api/webhooks/:id.
func (h *WebhooksHandler) DeleteWebhook(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RotateToken POST /api/webhooks/:id/rotate-token.
func (h *WebhooksHandler) RotateToken(c *fiber.Ctx) error {
	webhook, err := h.service.RotateToken(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWebhookResponse(webhook)})
}

// ListLogs GET /api/webhooks/:id/logs.
func (h *WebhooksHandler) ListLogs(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	logs, err := h.service.ListLogs(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWebhookLogResponses(logs)})
}
