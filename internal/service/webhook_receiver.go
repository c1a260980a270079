package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/payload"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// DefaultSecretHeader carries the shared webhook secret.
const DefaultSecretHeader = "x-webhook-secret"

// DefaultMaxBodyBytes caps the body accepted by the receive endpoint.
const DefaultMaxBodyBytes = 1 << 20

// titleKeys are tried in order when deriving a ticket title from a payload.
var titleKeys = []string{"title", "subject", "summary"}

// WebhookReceiver turns authenticated inbound calls into tickets. Every call
// leaves exactly one delivery log row.
type WebhookReceiver struct {
	store      repository.Store
	tickets    *TicketService
	registry   *WebhookService
	deliveries *DeliveryLogger
	dispatcher events.Dispatcher
	logger     *zap.Logger
	header     string
	maxBody    int64
}

// WebhookReceiverDependencies bundles collaborators.
type WebhookReceiverDependencies struct {
	Store      repository.Store
	Tickets    *TicketService
	Registry   *WebhookService
	Deliveries *DeliveryLogger
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger

	// SecretHeader overrides DefaultSecretHeader.
	SecretHeader string
	// MaxBodyBytes overrides DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// NewWebhookReceiver creates the receiver.
func NewWebhookReceiver(deps WebhookReceiverDependencies) *WebhookReceiver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewWebhookService(WebhookDependencies{Store: deps.Store, Clock: deps.Clock, Logger: logger})
	}
	deliveries := deps.Deliveries
	if deliveries == nil {
		deliveries = NewDeliveryLogger(deps.Clock, logger, 0)
	}
	header := deps.SecretHeader
	if header == "" {
		header = DefaultSecretHeader
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &WebhookReceiver{
		store:      deps.Store,
		tickets:    deps.Tickets,
		registry:   registry,
		deliveries: deliveries,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		header:     header,
		maxBody:    maxBody,
	}
}

// Receive authenticates the call, parses raw and creates a ticket. raw may
// be cut at MaxBodyBytes()+1 by the transport; longer bodies are rejected.
func (r *WebhookReceiver) Receive(ctx context.Context, token string, headers map[string]string, raw []byte) (*domain.Ticket, error) {
	// Once accepted, the call is always counted and logged even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	webhook, err := r.store.Webhooks().GetByToken(ctx, token)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.logger.Error("webhook lookup failed", zap.Error(err))
		return nil, r.reject(ctx, nil, raw, failure{
			reason:  domain.ReasonLookupFailed,
			message: err.Error(),
			cause:   apperrors.NewUnavailable(err),
		})
	}
	if webhook == nil || !webhook.Active {
		// An unknown token has no owner to count against.
		return nil, r.reject(ctx, webhook, raw, errUnknownWebhook())
	}

	if webhook.HasSecret() && !secretMatches(*webhook.SecretHash, headerValue(headers, r.header)) {
		return nil, r.reject(ctx, webhook, raw, failure{
			reason:  domain.ReasonBadSecret,
			message: "webhook secret mismatch",
			cause:   apperrors.NewAuthenticationError("invalid webhook secret"),
		})
	}

	if int64(len(raw)) > r.maxBody {
		return nil, r.reject(ctx, webhook, raw[:r.maxBody], failure{
			reason:    domain.ReasonMalformedPayload,
			message:   fmt.Sprintf("payload exceeds %d bytes", r.maxBody),
			cause:     apperrors.NewPayloadTooLarge(r.maxBody),
			truncated: true,
		})
	}

	body, err := payload.Parse(raw)
	if err != nil {
		return nil, r.reject(ctx, webhook, raw, failure{
			reason:  domain.ReasonMalformedPayload,
			message: err.Error(),
			cause:   apperrors.NewMalformedPayload(err),
		})
	}

	input := ticketInputFrom(webhook, body, raw)
	origin := domain.Origin{Type: domain.OriginWebhook, ID: &webhook.ID, RequiresApproval: webhook.RequiresApproval}

	var (
		ticket     *domain.Ticket
		createErr  error
		gone       bool
		logFailure bool
	)
	err = r.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		// Counting first locks the webhook row until commit, so a concurrent
		// delete cannot orphan the log row.
		if err := r.registry.RecordCall(ctx, tx, webhook.ID, true); err != nil {
			gone = apperrors.HasCode(err, apperrors.CodeNotFound)
			logFailure = !gone
			return err
		}
		ticket, createErr = r.tickets.createInTx(ctx, tx, input, origin)
		if createErr != nil {
			return createErr
		}
		ticketID := ticket.ID
		if _, err := r.deliveries.Record(ctx, tx, DeliveryRecord{
			WebhookID:    &webhook.ID,
			Status:       domain.WebhookLogSuccess,
			ResponseCode: http.StatusCreated,
			Payload:      raw,
			TicketID:     &ticketID,
		}); err != nil {
			logFailure = true
			return err
		}
		return nil
	})
	switch {
	case err == nil:
	case gone:
		r.logger.Warn("webhook deleted during delivery", zap.String("webhook_id", webhook.ID))
		return nil, r.reject(ctx, nil, raw, errUnknownWebhook())
	case logFailure:
		r.logger.Error("webhook delivery rolled back", zap.String("webhook_id", webhook.ID), zap.Error(err))
		return nil, apperrors.NewUnavailable(err)
	case createErr != nil:
		r.logger.Warn("webhook ticket creation failed", zap.String("webhook_id", webhook.ID), zap.Error(createErr))
		return nil, r.reject(ctx, webhook, raw, failure{
			reason:  domain.ReasonTicketCreationFailed,
			message: createErr.Error(),
			cause:   createErr,
		})
	default:
		return nil, apperrors.NewUnavailable(err)
	}

	r.logger.Info("webhook ticket created",
		zap.String("webhook_id", webhook.ID),
		zap.String("ticket_id", ticket.ID),
		zap.String("display_id", ticket.DisplayID()),
		zap.String("status", string(ticket.Status)),
	)
	r.tickets.publishCreated(ctx, ticket)
	r.publish(ctx, webhook, ticket.ID, domain.WebhookLogSuccess, nil)
	return ticket, nil
}

// MaxBodyBytes is the largest body accepted for ticket creation.
func (r *WebhookReceiver) MaxBodyBytes() int64 {
	return r.maxBody
}

// failure describes a rejected call. The logged response code is the HTTP
// status of cause.
type failure struct {
	reason    domain.WebhookFailureReason
	message   string
	cause     error
	truncated bool
}

func errUnknownWebhook() failure {
	return failure{
		reason:  domain.ReasonUnknownOrInactive,
		message: "unknown or inactive webhook",
		cause:   apperrors.NewAuthenticationError("unknown or inactive webhook"),
	}
}

// reject records a failed call in its own transaction and returns f.cause, or
// ServiceUnavailable when the log row could not be written.
func (r *WebhookReceiver) reject(ctx context.Context, webhook *domain.Webhook, raw []byte, f failure) error {
	var webhookID *string
	if webhook != nil {
		id := webhook.ID
		webhookID = &id
	}
	err := r.writeFailure(ctx, webhookID, raw, f)
	if webhookID != nil && apperrors.HasCode(err, apperrors.CodeNotFound) {
		// Deleted since the lookup; the row is kept without an owner.
		webhook, webhookID = nil, nil
		err = r.writeFailure(ctx, nil, raw, f)
	}
	if err != nil {
		r.logger.Error("webhook failure could not be recorded", zap.String("reason", string(f.reason)), zap.Error(err))
		return apperrors.NewUnavailable(err)
	}

	fields := []zap.Field{zap.String("reason", string(f.reason))}
	if webhookID != nil {
		fields = append(fields, zap.String("webhook_id", *webhookID))
	}
	r.logger.Warn("webhook call rejected", fields...)
	reason := f.reason
	r.publish(ctx, webhook, "", domain.WebhookLogError, &reason)
	return f.cause
}

func (r *WebhookReceiver) writeFailure(ctx context.Context, webhookID *string, raw []byte, f failure) error {
	reason := f.reason
	return r.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if webhookID != nil {
			if err := r.registry.RecordCall(ctx, tx, *webhookID, false); err != nil {
				return err
			}
		}
		_, err := r.deliveries.Record(ctx, tx, DeliveryRecord{
			WebhookID:    webhookID,
			Status:       domain.WebhookLogError,
			ResponseCode: apperrors.ToDomainError(f.cause).HTTPStatus,
			Reason:       &reason,
			Message:      f.message,
			Payload:      raw,
			Truncated:    f.truncated,
		})
		return err
	})
}

func (r *WebhookReceiver) publish(ctx context.Context, webhook *domain.Webhook, ticketID string, status domain.WebhookLogStatus, reason *domain.WebhookFailureReason) {
	actor := events.Actor{Type: domain.ActorTypeWebhook}
	webhookID := ""
	if webhook != nil {
		webhookID = webhook.ID
		actor.ID = &webhookID
	}
	publishEvent(ctx, r.dispatcher, r.logger, events.Event{
		Type:     events.EventWebhookReceived,
		TicketID: ticketID,
		Actor:    actor,
		Payload:  events.WebhookReceivedPayload{WebhookID: webhookID, Status: status, Reason: reason},
	})
}

// ticketInputFrom applies webhook defaults. The raw payload becomes the
// description, with bytes TEXT cannot hold replaced.
func ticketInputFrom(webhook *domain.Webhook, body payload.Value, raw []byte) TicketCreateInput {
	title, _ := body.FirstString(titleKeys...)
	title, _ = cleanText([]byte(title))
	if strings.TrimSpace(title) == "" {
		title = webhook.Name
	}
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength])
	}
	description, _ := cleanText(raw)
	return TicketCreateInput{
		Title:       title,
		Description: description,
		Priority:    webhook.DefaultPriority,
		CategoryID:  webhook.DefaultCategory,
		RequesterID: "webhook:" + webhook.ID,
		AssigneeID:  webhook.DefaultAssignee,
	}
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
