package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Messages       *handlers.MessagesHandler
	Webhooks       *handlers.WebhooksHandler
	WebhookReceive *handlers.WebhookReceiveHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics

	// BodyLimit caps admin request bodies. The receive endpoint applies its
	// own cap.
	BodyLimit int
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api")
	api.Post("/webhooks/receive/:token", cfg.WebhookReceive.Receive)

	protected := api.Group("", cfg.AuthMiddleware.Handle, auth.RequireStaff(), limitBody(cfg.BodyLimit))

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/resolve", cfg.Tickets.Resolve)
	tickets.Post("/:id/close", cfg.Tickets.Close)
	tickets.Post("/:id/approve", cfg.Tickets.Approve)
	tickets.Post("/:id/reject", cfg.Tickets.Reject)
	tickets.Post("/:id/pause", cfg.Tickets.Pause)
	tickets.Post("/:id/resume", cfg.Tickets.Resume)
	tickets.Post("/:id/schedule", cfg.Tickets.Schedule)
	tickets.Delete("/:id/schedule", cfg.Tickets.Unschedule)
	tickets.Get("/:id/messages", cfg.Messages.ListMessages)
	tickets.Post("/:id/messages", cfg.Messages.PostMessage)

	messages := protected.Group("/messages")
	messages.Patch("/:id", cfg.Messages.EditMessage)
	messages.Delete("/:id", cfg.Messages.DeleteMessage)
	messages.Get("/:id/attachments/:attachmentId", cfg.Messages.DownloadAttachment)

	webhooks := protected.Group("/webhooks")
	webhooks.Post("/", cfg.Webhooks.CreateWebhook)
	webhooks.Get("/", cfg.Webhooks.ListWebhooks)
	webhooks.Get("/:id", cfg.Webhooks.GetWebhook)
	webhooks.Patch("/:id", cfg.Webhooks.UpdateWebhook)
	webhooks.Delete("/:id", cfg.Webhooks.DeleteWebhook)
	webhooks.Post("/:id/rotate-token", cfg.Webhooks.RotateToken)
	webhooks.Get("/:id/logs", cfg.Webhooks.ListLogs)
}
