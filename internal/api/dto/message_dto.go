package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateMessageRequest is the JSON form of a new message. Multipart posts
// carry the same body field plus attachments files.
type CreateMessageRequest struct {
	Body string `json:"body" form:"body"`
}

// EditMessageRequest payload.
type EditMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID          string               `json:"id"`
	TicketID    string               `json:"ticket_id"`
	AuthorType  domain.ActorType     `json:"author_type"`
	AuthorID    string               `json:"author_id"`
	Body        string               `json:"body"`
	Edited      bool                 `json:"edited"`
	Attachments []AttachmentResponse `json:"attachments"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID        string `json:"id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url"`
}

// NewMessageResponse maps a message and links its attachments.
func NewMessageResponse(msg *domain.TicketMessage) TicketMessageResponse {
	attachments := make([]AttachmentResponse, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, AttachmentResponse{
			ID:        att.ID,
			FileName:  att.FileName,
			MimeType:  att.MimeType,
			SizeBytes: att.SizeBytes,
			URL:       "/api/messages/" + msg.ID + "/attachments/" + att.ID,
		})
	}
	return TicketMessageResponse{
		ID:          msg.ID,
		TicketID:    msg.TicketID,
		AuthorType:  msg.AuthorType,
		AuthorID:    msg.AuthorID,
		Body:        msg.Body,
		Edited:      msg.Edited(),
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}
