package repository

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	ListByMessage(ctx context.Context, messageID string) ([]domain.Attachment, error)
	// ListByMessages returns attachments keyed by message id, each slice ordered by position.
	ListByMessages(ctx context.Context, messageIDs []string) (map[string][]domain.Attachment, error)
}

type attachmentRepository struct {
	db DBTX
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	const query = `
        INSERT INTO ticket_attachments (id, message_id, storage_key, file_name, mime_type, size_bytes, position, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Exec(ctx, query,
		attachment.ID,
		attachment.MessageID,
		attachment.StorageKey,
		attachment.FileName,
		attachment.MimeType,
		attachment.SizeBytes,
		attachment.Position,
		attachment.CreatedAt,
	)
	return err
}

func (r *attachmentRepository) ListByMessage(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	byMessage, err := r.ListByMessages(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	return byMessage[messageID], nil
}

func (r *attachmentRepository) ListByMessages(ctx context.Context, messageIDs []string) (map[string][]domain.Attachment, error) {
	result := make(map[string][]domain.Attachment, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	const query = `
        SELECT id, message_id, storage_key, file_name, mime_type, size_bytes, position, created_at
        FROM ticket_attachments WHERE message_id = ANY($1) ORDER BY message_id, position`
	rows, err := r.db.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var attachment domain.Attachment
		if err := rows.Scan(
			&attachment.ID,
			&attachment.MessageID,
			&attachment.StorageKey,
			&attachment.FileName,
			&attachment.MimeType,
			&attachment.SizeBytes,
			&attachment.Position,
			&attachment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result[attachment.MessageID] = append(result[attachment.MessageID], attachment)
	}
	return result, rows.Err()
}
