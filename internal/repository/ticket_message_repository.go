package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketMessageRepository manages ticket thread messages.
type TicketMessageRepository interface {
	Create(ctx context.Context, msg *domain.TicketMessage) error
	GetByID(ctx context.Context, id string) (*domain.TicketMessage, error)
	GetForUpdate(ctx context.Context, id string) (*domain.TicketMessage, error)
	UpdateBody(ctx context.Context, id, body string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
}

type ticketMessageRepository struct {
	db DBTX
}

const messageColumns = `id, ticket_id, author_type, author_id, body, created_at, updated_at`

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (id, ticket_id, author_type, author_id, body, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.AuthorType,
		msg.AuthorID,
		msg.Body,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	return err
}

func (r *ticketMessageRepository) GetByID(ctx context.Context, id string) (*domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE id=$1`
	return scanMessage(r.db.QueryRow(ctx, query, id))
}

func (r *ticketMessageRepository) GetForUpdate(ctx context.Context, id string) (*domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE id=$1 FOR UPDATE`
	return scanMessage(r.db.QueryRow(ctx, query, id))
}

func (r *ticketMessageRepository) UpdateBody(ctx context.Context, id, body string, updatedAt time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE ticket_messages SET body=$2, updated_at=$3 WHERE id=$1`, id, body, updatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes the message. Attachment rows cascade.
func (r *ticketMessageRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM ticket_messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, id`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.TicketMessage, error) {
	var msg domain.TicketMessage
	if err := row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.AuthorType,
		&msg.AuthorID,
		&msg.Body,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
