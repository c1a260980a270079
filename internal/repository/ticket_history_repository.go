package repository

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketHistoryRepository stores ticket change events.
type TicketHistoryRepository interface {
	Create(ctx context.Context, change *domain.TicketChange) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketChange, error)
}

type ticketHistoryRepository struct {
	db DBTX
}

func (r *ticketHistoryRepository) Create(ctx context.Context, change *domain.TicketChange) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, actor_type, actor_id, field, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Exec(ctx, query,
		change.ID,
		change.TicketID,
		change.ActorType,
		change.ActorID,
		change.Field,
		change.OldValue,
		change.NewValue,
		change.CreatedAt,
	)
	return err
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketChange, error) {
	const query = `
        SELECT id, ticket_id, actor_type, actor_id, field, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketChange
	for rows.Next() {
		var change domain.TicketChange
		if err := rows.Scan(
			&change.ID,
			&change.TicketID,
			&change.ActorType,
			&change.ActorID,
			&change.Field,
			&change.OldValue,
			&change.NewValue,
			&change.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, change)
	}
	return result, rows.Err()
}
