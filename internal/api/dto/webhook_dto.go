package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateWebhookRequest payload.
type CreateWebhookRequest struct {
	Name             string                `json:"name" validate:"required,max=255"`
	SecretKey        *string               `json:"secret_key"`
	Active           *bool                 `json:"active"`
	RequiresApproval bool                  `json:"requires_approval"`
	DefaultPriority  domain.TicketPriority `json:"default_priority" validate:"omitempty,oneof=low medium high urgent"`
	DefaultCategory  *string               `json:"default_category"`
	DefaultAssignee  *string               `json:"default_assignee"`
}

// UpdateWebhookRequest payload. Omitted fields are left unchanged; an empty
// secret_key clears the secret.
type UpdateWebhookRequest struct {
	Name             *string                `json:"name" validate:"omitempty,min=1,max=255"`
	SecretKey        *string                `json:"secret_key"`
	Active           *bool                  `json:"active"`
	RequiresApproval *bool                  `json:"requires_approval"`
	DefaultPriority  *domain.TicketPriority `json:"default_priority" validate:"omitempty,oneof=low medium high urgent"`
	DefaultCategory  *string                `json:"default_category"`
	DefaultAssignee  *string                `json:"default_assignee"`
}

// WebhookResponse is the admin representation of a webhook. The secret is
// never returned, only whether one is set.
type WebhookResponse struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Token            string                `json:"token"`
	ReceiveURL       string                `json:"receive_url"`
	HasSecret        bool                  `json:"has_secret"`
	Active           bool                  `json:"active"`
	RequiresApproval bool                  `json:"requires_approval"`
	DefaultPriority  domain.TicketPriority `json:"default_priority"`
	DefaultCategory  *string               `json:"default_category"`
	DefaultAssignee  *string               `json:"default_assignee"`
	TotalCalls       int64                 `json:"total_calls"`
	SuccessCalls     int64                 `json:"success_calls"`
	ErrorCalls       int64                 `json:"error_calls"`
	SuccessRate      float64               `json:"success_rate"`
	LastCalledAt     *time.Time            `json:"last_called_at"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// WebhookLogResponse is one delivery log row.
type WebhookLogResponse struct {
	ID               string                       `json:"id"`
	WebhookID        *string                      `json:"webhook_id"`
	Status           domain.WebhookLogStatus      `json:"status"`
	ResponseCode     *int                         `json:"response_code"`
	ErrorReason      *domain.WebhookFailureReason `json:"error_reason"`
	ErrorMessage     *string                      `json:"error_message"`
	Payload          string                       `json:"payload"`
	PayloadTruncated bool                         `json:"payload_truncated"`
	PayloadSanitized bool                         `json:"payload_sanitized"`
	TicketID         *string                      `json:"ticket_id"`
	CreatedAt        time.Time                    `json:"created_at"`
}

// WebhookReceiptResponse is returned to the external caller on success.
type WebhookReceiptResponse struct {
	TicketID  string              `json:"ticket_id"`
	DisplayID string              `json:"display_id"`
	RoutingID string              `json:"routing_id"`
	Status    domain.TicketStatus `json:"status"`
}

// NewWebhookResponse maps a webhook.
func NewWebhookResponse(w *domain.Webhook) WebhookResponse {
	return WebhookResponse{
		ID:               w.ID,
		Name:             w.Name,
		Token:            w.Token,
		ReceiveURL:       "/api/webhooks/receive/" + w.Token,
		HasSecret:        w.HasSecret(),
		Active:           w.Active,
		RequiresApproval: w.RequiresApproval,
		DefaultPriority:  w.DefaultPriority,
		DefaultCategory:  w.DefaultCategory,
		DefaultAssignee:  w.DefaultAssignee,
		TotalCalls:       w.TotalCalls,
		SuccessCalls:     w.SuccessCalls,
		ErrorCalls:       w.ErrorCalls,
		SuccessRate:      w.SuccessRate(),
		LastCalledAt:     w.LastCalledAt,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

// NewWebhookLogResponses maps delivery log rows.
func NewWebhookLogResponses(logs []domain.WebhookLog) []WebhookLogResponse {
	resp := make([]WebhookLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, WebhookLogResponse{
			ID:               l.ID,
			WebhookID:        l.WebhookID,
			Status:           l.Status,
			ResponseCode:     l.ResponseCode,
			ErrorReason:      l.ErrorReason,
			ErrorMessage:     l.ErrorMessage,
			Payload:          l.Payload,
			PayloadTruncated: l.PayloadTruncated,
			PayloadSanitized: l.PayloadSanitized,
			TicketID:         l.TicketID,
			CreatedAt:        l.CreatedAt,
		})
	}
	return resp
}
