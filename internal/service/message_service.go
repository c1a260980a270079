package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/storage"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// MessageService manages the conversation thread of a ticket.
type MessageService struct {
	store      repository.Store
	files      storage.AttachmentStore
	policy     *bluemonday.Policy
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// MessageDependencies bundles collaborators.
type MessageDependencies struct {
	Store      repository.Store
	Files      storage.AttachmentStore
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
}

// AttachmentUpload is one file posted with a message.
type AttachmentUpload struct {
	FileName string
	MimeType string
	Content  io.Reader
}

// NewMessageService creates the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{
		store:      deps.Store,
		files:      deps.Files,
		policy:     bluemonday.UGCPolicy(),
		dispatcher: deps.Dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

func (s *MessageService) sanitize(body string) string {
	return strings.TrimSpace(s.policy.Sanitize(body))
}

// Post appends a message. Files are written before the rows that reference
// them and removed again if the transaction fails.
func (s *MessageService) Post(ctx context.Context, author domain.Actor, ticketID, body string, uploads []AttachmentUpload) (*domain.TicketMessage, error) {
	body = s.sanitize(body)
	if body == "" && len(uploads) == 0 {
		return nil, apperrors.NewValidationError("message needs a body or attachments", map[string]any{"body": "required"})
	}
	if strings.TrimSpace(author.ID) == "" {
		return nil, apperrors.NewValidationError("author is required", map[string]any{"author_id": "required"})
	}
	if len(uploads) > 0 && s.files == nil {
		return nil, apperrors.NewUnavailable(errors.New("attachment storage not configured"))
	}
	if _, err := s.store.Tickets().GetByID(ctx, ticketID); err != nil {
		return nil, ticketLookupError(ticketID, err)
	}

	now := s.clock.Now()
	authorType := author.Type
	if authorType == "" {
		authorType = domain.ActorTypeUser
	}
	msg := &domain.TicketMessage{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		AuthorType: authorType,
		AuthorID:   author.ID,
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for i, upload := range uploads {
		key, size, err := s.files.Save(ctx, ticketID, upload.FileName, upload.Content)
		if err != nil {
			s.removeFiles(ctx, msg.Attachments)
			return nil, apperrors.NewUnavailable(err)
		}
		mimeType := upload.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ID:         uuid.NewString(),
			MessageID:  msg.ID,
			StorageKey: key,
			FileName:   upload.FileName,
			MimeType:   mimeType,
			SizeBytes:  size,
			Position:   i,
			CreatedAt:  now,
		})
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return apperrors.MapError(err)
		}
		for i := range msg.Attachments {
			if err := tx.Attachments().Create(ctx, &msg.Attachments[i]); err != nil {
				return apperrors.MapError(err)
			}
		}
		if err := tx.Tickets().Touch(ctx, ticketID, now); err != nil {
			return ticketLookupError(ticketID, err)
		}
		return nil
	})
	if err != nil {
		s.removeFiles(ctx, msg.Attachments)
		return nil, err
	}

	s.publish(ctx, events.EventTicketMessageAdded, author, msg)
	return msg, nil
}

// PostSystem appends a message authored by the state machine.
func (s *MessageService) PostSystem(ctx context.Context, ticketID, body string) (*domain.TicketMessage, error) {
	var msg *domain.TicketMessage
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		msg, err = writeSystemMessage(ctx, tx, ticketID, body, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventTicketMessageAdded, domain.SystemActor(), msg)
	return msg, nil
}

func writeSystemMessage(ctx context.Context, tx repository.Store, ticketID, body string, now time.Time) (*domain.TicketMessage, error) {
	msg := &domain.TicketMessage{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		AuthorType: domain.ActorTypeSystem,
		AuthorID:   domain.SystemAuthorID,
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.Messages().Create(ctx, msg); err != nil {
		return nil, apperrors.MapError(err)
	}
	return msg, nil
}

// Edit replaces the body. Only the author or a privileged role may edit, and
// system messages are never editable.
func (s *MessageService) Edit(ctx context.Context, editor domain.Actor, messageID, body string) (*domain.TicketMessage, error) {
	body = s.sanitize(body)
	var msg *domain.TicketMessage
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		msg, err = lockMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if err := checkMessageOwner(editor, msg, "edited"); err != nil {
			return err
		}
		attachments, err := tx.Attachments().ListByMessage(ctx, msg.ID)
		if err != nil {
			return apperrors.MapError(err)
		}
		if body == "" && len(attachments) == 0 {
			return apperrors.NewValidationError("message needs a body or attachments", map[string]any{"body": "required"})
		}

		updatedAt := s.clock.Now()
		if !updatedAt.After(msg.CreatedAt) {
			updatedAt = msg.CreatedAt.Add(time.Microsecond)
		}
		if err := tx.Messages().UpdateBody(ctx, msg.ID, body, updatedAt); err != nil {
			return apperrors.MapError(err)
		}
		if err := tx.Tickets().Touch(ctx, msg.TicketID, updatedAt); err != nil {
			return ticketLookupError(msg.TicketID, err)
		}
		msg.Body = body
		msg.UpdatedAt = updatedAt
		msg.Attachments = attachments
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventTicketMessageEdited, editor, msg)
	return msg, nil
}

// Delete removes a message and its attachment rows, then the stored files.
func (s *MessageService) Delete(ctx context.Context, editor domain.Actor, messageID string) error {
	var msg *domain.TicketMessage
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		msg, err = lockMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if err := checkMessageOwner(editor, msg, "deleted"); err != nil {
			return err
		}
		msg.Attachments, err = tx.Attachments().ListByMessage(ctx, msg.ID)
		if err != nil {
			return apperrors.MapError(err)
		}
		if err := tx.Messages().Delete(ctx, msg.ID); err != nil {
			return apperrors.MapError(err)
		}
		if err := tx.Tickets().Touch(ctx, msg.TicketID, s.clock.Now()); err != nil {
			return ticketLookupError(msg.TicketID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.removeFiles(ctx, msg.Attachments)
	s.publish(ctx, events.EventTicketMessageDeleted, editor, msg)
	return nil
}

// List returns the thread of a ticket, oldest first, with attachments.
func (s *MessageService) List(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	if _, err := s.store.Tickets().GetByID(ctx, ticketID); err != nil {
		return nil, ticketLookupError(ticketID, err)
	}
	msgs, err := s.store.Messages().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	byMessage, err := s.store.Attachments().ListByMessages(ctx, ids)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
	}
	return msgs, nil
}

// OpenAttachment streams a stored attachment of a message.
func (s *MessageService) OpenAttachment(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, io.ReadCloser, error) {
	if s.files == nil {
		return nil, nil, apperrors.NewUnavailable(errors.New("attachment storage not configured"))
	}
	attachments, err := s.store.Attachments().ListByMessage(ctx, messageID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	for i := range attachments {
		if attachments[i].ID != attachmentID {
			continue
		}
		r, err := s.files.Open(ctx, attachments[i].StorageKey)
		if err != nil {
			return nil, nil, apperrors.NewUnavailable(err)
		}
		return &attachments[i], r, nil
	}
	return nil, nil, apperrors.NewNotFound("attachment", map[string]any{"attachment_id": attachmentID})
}

func lockMessage(ctx context.Context, tx repository.Store, messageID string) (*domain.TicketMessage, error) {
	msg, err := tx.Messages().GetForUpdate(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("message", map[string]any{"message_id": messageID})
		}
		return nil, apperrors.MapError(err)
	}
	return msg, nil
}

func checkMessageOwner(editor domain.Actor, msg *domain.TicketMessage, verb string) error {
	if msg.IsSystem() {
		return apperrors.NewForbidden("system messages cannot be " + verb)
	}
	if editor.Role.Privileged() {
		return nil
	}
	if editor.ID == "" || editor.ID != msg.AuthorID {
		return apperrors.NewForbidden("only the author can change this message")
	}
	return nil
}

func (s *MessageService) removeFiles(ctx context.Context, attachments []domain.Attachment) {
	if s.files == nil {
		return
	}
	for _, a := range attachments {
		if err := s.files.Delete(context.WithoutCancel(ctx), a.StorageKey); err != nil {
			s.logger.Warn("remove attachment file failed", zap.String("storage_key", a.StorageKey), zap.Error(err))
		}
	}
}

func (s *MessageService) publish(ctx context.Context, eventType events.EventType, actor domain.Actor, msg *domain.TicketMessage) {
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:      eventType,
		TicketID:  msg.TicketID,
		Actor:     events.ActorFrom(actor),
		Timestamp: s.clock.Now(),
		Payload: events.TicketMessagePayload{
			MessageID:   msg.ID,
			AuthorType:  msg.AuthorType,
			AuthorID:    msg.AuthorID,
			BodyPreview: stringPreview(msg.Body, 120),
			Attachments: len(msg.Attachments),
		},
	})
}
