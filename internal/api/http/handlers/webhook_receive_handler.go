package handlers

import (
	"bytes"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/service"
)

// WebhookReceiveHandler is the unauthenticated entry point for external systems.
type WebhookReceiveHandler struct {
	receiver *service.WebhookReceiver
}

// NewWebhookReceiveHandler constructs handler.
func NewWebhookReceiveHandler(receiver *service.WebhookReceiver) *WebhookReceiveHandler {
	return &WebhookReceiveHandler{receiver: receiver}
}

// Receive POST /api/webhooks/receive/:token.
func (h *WebhookReceiveHandler) Receive(c *fiber.Ctx) error {
	headers := make(map[string]string)
	for name, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	body := readCapped(c, h.receiver.MaxBodyBytes()+1)

	ticket, err := h.receiver.Receive(c.UserContext(), c.Params("token"), headers, body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.WebhookReceiptResponse{
		TicketID:  ticket.ID,
		DisplayID: ticket.DisplayID(),
		RoutingID: ticket.RoutingID(),
		Status:    ticket.Status,
	}})
}

// readCapped reads at most limit bytes of the request body. A broken stream
// still yields what arrived, so the call is logged. When the cap is hit the
// rest of the body stays unread and the connection is closed after replying.
func readCapped(c *fiber.Ctx, limit int64) []byte {
	var src io.Reader
	if stream := c.Context().RequestBodyStream(); stream != nil {
		src = stream
	} else {
		src = bytes.NewReader(c.Body())
	}
	body, _ := io.ReadAll(io.LimitReader(src, limit))
	if int64(len(body)) >= limit {
		c.Context().SetConnectionClose()
	}
	return body
}
