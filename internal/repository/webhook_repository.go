package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// WebhookRepository persists inbound webhook definitions and their counters.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *domain.Webhook) error
	Update(ctx context.Context, webhook *domain.Webhook) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	GetByToken(ctx context.Context, token string) (*domain.Webhook, error)
	List(ctx context.Context, limit, offset int) ([]domain.Webhook, error)
	// IncrementCounters adds one call and one success or error in a single statement.
	IncrementCounters(ctx context.Context, id string, success bool, at time.Time) error
	UpdateToken(ctx context.Context, id, token string, at time.Time) error
}

// WebhookLogRepository appends and reads delivery audit rows.
type WebhookLogRepository interface {
	Create(ctx context.Context, log *domain.WebhookLog) error
	ListByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]domain.WebhookLog, error)
}

type webhookRepository struct {
	db DBTX
}

const webhookColumns = `id, name, token, secret_hash, active, requires_approval, default_priority, default_category,
               default_assignee, total_calls, success_calls, error_calls, last_called_at, created_at, updated_at`

func (r *webhookRepository) Create(ctx context.Context, webhook *domain.Webhook) error {
	const query = `
        INSERT INTO webhooks (id, name, token, secret_hash, active, requires_approval, default_priority,
            default_category, default_assignee, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.db.Exec(ctx, query,
		webhook.ID,
		webhook.Name,
		webhook.Token,
		webhook.SecretHash,
		webhook.Active,
		webhook.RequiresApproval,
		webhook.DefaultPriority,
		webhook.DefaultCategory,
		webhook.DefaultAssignee,
		webhook.CreatedAt,
		webhook.UpdatedAt,
	)
	return err
}

// Update writes the editable settings. Counters and token are left untouched.
func (r *webhookRepository) Update(ctx context.Context, webhook *domain.Webhook) error {
	const query = `
        UPDATE webhooks SET name=$1, secret_hash=$2, active=$3, requires_approval=$4, default_priority=$5,
            default_category=$6, default_assignee=$7, updated_at=$8
        WHERE id=$9`
	cmd, err := r.db.Exec(ctx, query,
		webhook.Name,
		webhook.SecretHash,
		webhook.Active,
		webhook.RequiresApproval,
		webhook.DefaultPriority,
		webhook.DefaultCategory,
		webhook.DefaultAssignee,
		webhook.UpdatedAt,
		webhook.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes the webhook. Its logs cascade.
func (r *webhookRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM webhooks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *webhookRepository) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id=$1`
	return scanWebhook(r.db.QueryRow(ctx, query, id))
}

func (r *webhookRepository) GetByToken(ctx context.Context, token string) (*domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE token=$1`
	return scanWebhook(r.db.QueryRow(ctx, query, token))
}

func (r *webhookRepository) List(ctx context.Context, limit, offset int) ([]domain.Webhook, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + webhookColumns + ` FROM webhooks ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *webhook)
	}
	return result, rows.Err()
}

func (r *webhookRepository) IncrementCounters(ctx context.Context, id string, success bool, at time.Time) error {
	successDelta, errorDelta := 0, 1
	if success {
		successDelta, errorDelta = 1, 0
	}
	const query = `
        UPDATE webhooks SET total_calls = total_calls + 1,
            success_calls = success_calls + $2,
            error_calls = error_calls + $3,
            last_called_at = $4
        WHERE id=$1`
	cmd, err := r.db.Exec(ctx, query, id, successDelta, errorDelta, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *webhookRepository) UpdateToken(ctx context.Context, id, token string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE webhooks SET token=$2, updated_at=$3 WHERE id=$1`, id, token, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var webhook domain.Webhook
	if err := row.Scan(
		&webhook.ID,
		&webhook.Name,
		&webhook.Token,
		&webhook.SecretHash,
		&webhook.Active,
		&webhook.RequiresApproval,
		&webhook.DefaultPriority,
		&webhook.DefaultCategory,
		&webhook.DefaultAssignee,
		&webhook.TotalCalls,
		&webhook.SuccessCalls,
		&webhook.ErrorCalls,
		&webhook.LastCalledAt,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &webhook, nil
}

type webhookLogRepository struct {
	db DBTX
}

func (r *webhookLogRepository) Create(ctx context.Context, log *domain.WebhookLog) error {
	const query = `
        INSERT INTO webhook_logs (id, webhook_id, status, response_code, error_reason, error_message, payload,
            payload_truncated, payload_sanitized, ticket_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.db.Exec(ctx, query,
		log.ID,
		log.WebhookID,
		log.Status,
		log.ResponseCode,
		log.ErrorReason,
		log.ErrorMessage,
		log.Payload,
		log.PayloadTruncated,
		log.PayloadSanitized,
		log.TicketID,
		log.CreatedAt,
	)
	return err
}

func (r *webhookLogRepository) ListByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]domain.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, webhook_id, status, response_code, error_reason, error_message, payload, payload_truncated,
               payload_sanitized, ticket_id, created_at
        FROM webhook_logs WHERE webhook_id=$1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, webhookID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WebhookLog
	for rows.Next() {
		var log domain.WebhookLog
		if err := rows.Scan(
			&log.ID,
			&log.WebhookID,
			&log.Status,
			&log.ResponseCode,
			&log.ErrorReason,
			&log.ErrorMessage,
			&log.Payload,
			&log.PayloadTruncated,
			&log.PayloadSanitized,
			&log.TicketID,
			&log.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, log)
	}
	return result, rows.Err()
}
