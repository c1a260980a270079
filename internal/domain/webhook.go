package domain

import "time"

// Webhook is an inbound endpoint that creates tickets from external events.
type Webhook struct {
	ID               string
	Name             string
	Token            string
	// SecretHash is the bcrypt hash of the shared secret, nil when unset.
	SecretHash       *string
	Active           bool
	RequiresApproval bool
	DefaultPriority  TicketPriority
	DefaultCategory  *string
	DefaultAssignee  *string
	TotalCalls       int64
	SuccessCalls     int64
	ErrorCalls       int64
	LastCalledAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasSecret reports whether callers must present the shared secret.
func (w *Webhook) HasSecret() bool {
	return w.SecretHash != nil && *w.SecretHash != ""
}

// SuccessRate returns success_calls/total_calls, zero without calls.
func (w *Webhook) SuccessRate() float64 {
	if w.TotalCalls == 0 {
		return 0
	}
	return float64(w.SuccessCalls) / float64(w.TotalCalls)
}

// Clone returns a deep copy of the webhook.
func (w *Webhook) Clone() *Webhook {
	if w == nil {
		return nil
	}
	c := *w
	c.SecretHash = cloneString(w.SecretHash)
	c.DefaultCategory = cloneString(w.DefaultCategory)
	c.DefaultAssignee = cloneString(w.DefaultAssignee)
	c.LastCalledAt = cloneTime(w.LastCalledAt)
	return &c
}

// WebhookLogStatus is the outcome of one inbound call.
type WebhookLogStatus string

const (
	WebhookLogSuccess WebhookLogStatus = "success"
	WebhookLogError   WebhookLogStatus = "error"
)

// WebhookFailureReason classifies failed inbound calls.
type WebhookFailureReason string

const (
	ReasonUnknownOrInactive    WebhookFailureReason = "unknown_or_inactive"
	ReasonBadSecret            WebhookFailureReason = "bad_secret"
	ReasonMalformedPayload     WebhookFailureReason = "malformed_payload"
	ReasonTicketCreationFailed WebhookFailureReason = "ticket_creation_failed"
	ReasonLookupFailed         WebhookFailureReason = "lookup_failed"
)

// WebhookLog is the immutable audit row for one inbound call.
type WebhookLog struct {
	ID               string
	WebhookID        *string
	Status           WebhookLogStatus
	ResponseCode     *int
	ErrorReason      *WebhookFailureReason
	ErrorMessage     *string
	Payload          string
	PayloadTruncated bool
	// PayloadSanitized is set when invalid UTF-8 or NUL bytes were replaced.
	PayloadSanitized bool
	TicketID         *string
	CreatedAt        time.Time
}
