package handlers

import (
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const attachmentsField = "attachments"

// MessagesHandler serves the ticket conversation thread.
type MessagesHandler struct {
	service *service.MessageService
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(messageService *service.MessageService) *MessagesHandler {
	return &MessagesHandler{service: messageService}
}

// ListMessages GET /api/tickets/:id/messages.
func (h *MessagesHandler) ListMessages(c *fiber.Ctx) error {
	msgs, err := h.service.List(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.TicketMessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, dto.NewMessageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// PostMessage POST /api/tickets/:id/messages. Accepts JSON or multipart.
func (h *MessagesHandler) PostMessage(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}

	var (
		req     dto.CreateMessageRequest
		uploads []service.AttachmentUpload
	)
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperrors.NewValidationError("invalid multipart form", map[string]any{"body": err.Error()})
		}
		if values := form.Value["body"]; len(values) > 0 {
			req.Body = values[0]
		}
		var closeAll func()
		uploads, closeAll, err = openUploads(form.File[attachmentsField])
		if err != nil {
			return err
		}
		defer closeAll()
	} else if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"body": err.Error()})
	}

	msg, err := h.service.Post(c.UserContext(), actor, c.Params("id"), req.Body, uploads)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// EditMessage PATCH /api/messages/:id.
func (h *MessagesHandler) EditMessage(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.EditMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	msg, err := h.service.Edit(c.UserContext(), actor, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// DeleteMessage DELETE /api/messages/:id.
func (h *MessagesHandler) DeleteMessage(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DownloadAttachment GET /api/messages/:id/attachments/:attachmentId.
func (h *MessagesHandler) DownloadAttachment(c *fiber.Ctx) error {
	att, body, err := h.service.OpenAttachment(c.UserContext(), c.Params("id"), c.Params("attachmentId"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, att.MimeType)
	c.Attachment(att.FileName)
	return c.SendStream(body, int(att.SizeBytes))
}

func openUploads(files []*multipart.FileHeader) ([]service.AttachmentUpload, func(), error) {
	uploads := make([]service.AttachmentUpload, 0, len(files))
	opened := make([]multipart.File, 0, len(files))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, nil, apperrors.NewValidationError("unreadable attachment", map[string]any{"file_name": fh.Filename})
		}
		opened = append(opened, f)
		mimeType := fh.Header.Get(fiber.HeaderContentType)
		if mimeType == "" {
			mimeType = fiber.MIMEOctetStream
		}
		uploads = append(uploads, service.AttachmentUpload{FileName: fh.Filename, MimeType: mimeType, Content: f})
	}
	return uploads, closeAll, nil
}
