package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketFilter captures admin search parameters.
type TicketFilter struct {
	RequesterID *string
	AssigneeID  *string
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	OriginType  *domain.OriginType
	SearchTerm  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// Normalized applies the default page size and clamps the offset.
func (f TicketFilter) Normalized() TicketFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetForUpdate reads the ticket and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	// PromoteScheduled moves a due scheduled ticket to status. It reports false
	// when another caller already promoted it or it is no longer due.
	PromoteScheduled(ctx context.Context, id string, status domain.TicketStatus, now time.Time) (bool, error)
	// NextTicketNumber allocates the next number for the given business day.
	NextTicketNumber(ctx context.Context, day time.Time) (int, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type ticketRepository struct {
	db DBTX
}

const ticketColumns = `id, ticket_number, title, description, status, priority, category_id, requester_id,
               assignee_id, form_submission_id, origin_type, origin_id, scheduled_at, is_paused, paused_at,
               paused_duration_us, closed_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, ticket_number, business_day, title, description, status, priority, category_id,
            requester_id, assignee_id, form_submission_id, origin_type, origin_id, scheduled_at, is_paused, paused_at,
            paused_duration_us, closed_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.TicketNumber,
		domain.BusinessDay(ticket.CreatedAt),
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CategoryID,
		ticket.RequesterID,
		ticket.AssigneeID,
		ticket.FormSubmissionID,
		ticket.OriginType,
		ticket.OriginID,
		ticket.ScheduledAt,
		ticket.IsPaused,
		ticket.PausedAt,
		ticket.PausedDuration.Microseconds(),
		ticket.ClosedAt,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, status=$3, priority=$4, category_id=$5, assignee_id=$6,
            scheduled_at=$7, is_paused=$8, paused_at=$9, paused_duration_us=$10, closed_at=$11, updated_at=$12
        WHERE id=$13`
	cmd, err := r.db.Exec(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CategoryID,
		ticket.AssigneeID,
		ticket.ScheduledAt,
		ticket.IsPaused,
		ticket.PausedAt,
		ticket.PausedDuration.Microseconds(),
		ticket.ClosedAt,
		ticket.UpdatedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	filter = filter.Normalized()
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.OriginType != nil {
		args = append(args, *filter.OriginType)
		clauses = append(clauses, fmt.Sprintf("origin_type=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + ticketColumns + `
        FROM tickets WHERE status='scheduled' AND scheduled_at <= $1
        ORDER BY scheduled_at ASC, id LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) PromoteScheduled(ctx context.Context, id string, status domain.TicketStatus, now time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET status=$2, scheduled_at=NULL, updated_at=$3
        WHERE id=$1 AND status='scheduled' AND scheduled_at <= $3`
	cmd, err := r.db.Exec(ctx, query, id, status, now)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) NextTicketNumber(ctx context.Context, day time.Time) (int, error) {
	const query = `
        INSERT INTO ticket_daily_counters (day, last_number) VALUES ($1, 1)
        ON CONFLICT (day) DO UPDATE SET last_number = ticket_daily_counters.last_number + 1
        RETURNING last_number`
	var number int
	if err := r.db.QueryRow(ctx, query, day).Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}

func (r *ticketRepository) Touch(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET updated_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket     domain.Ticket
		pausedUsec int64
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.CategoryID,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.FormSubmissionID,
		&ticket.OriginType,
		&ticket.OriginID,
		&ticket.ScheduledAt,
		&ticket.IsPaused,
		&ticket.PausedAt,
		&pausedUsec,
		&ticket.ClosedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ticket.PausedDuration = time.Duration(pausedUsec) * time.Microsecond
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
