package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
)

// NotificationService turns domain events into an activity feed for
// requesters and assignees. Delivery channels are external; the feed is
// written to the structured log.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("activity"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketMessageAdded, n.handleTicketMessageAdded)
	n.dispatcher.Subscribe(events.EventTicketPaused, n.handlePause)
	n.dispatcher.Subscribe(events.EventTicketResumed, n.handlePause)
}

func (n *NotificationService) handleTicketCreated(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("ticket created",
		zap.String("ticket_id", event.TicketID),
		zap.String("display_id", payload.DisplayID),
		zap.String("status", string(payload.Status)),
		zap.String("origin", string(payload.OriginType)))
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return nil
	}
	fields := []zap.Field{
		zap.String("ticket_id", event.TicketID),
		zap.String("from", string(payload.OldStatus)),
		zap.String("to", string(payload.NewStatus)),
		zap.String("source", string(payload.Source)),
	}
	if payload.Comment != "" {
		fields = append(fields, zap.String("comment", payload.Comment))
	}
	n.logger.Info("ticket status changed", fields...)
	return nil
}

func (n *NotificationService) handleTicketAssigned(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok || payload.AssigneeID == nil {
		return nil
	}
	n.logger.Info("notify assignee", zap.String("ticket_id", event.TicketID), zap.String("assignee_id", *payload.AssigneeID))
	return nil
}

func (n *NotificationService) handleTicketMessageAdded(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketMessagePayload)
	if !ok || payload.AuthorType == domain.ActorTypeSystem {
		return nil
	}
	n.logger.Info("ticket message added",
		zap.String("ticket_id", event.TicketID),
		zap.String("message_id", payload.MessageID),
		zap.Int("attachments", payload.Attachments))
	return nil
}

func (n *NotificationService) handlePause(_ context.Context, event events.Event) error {
	n.logger.Debug(string(event.Type), zap.String("ticket_id", event.TicketID))
	return nil
}
