package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist. It aliases pgx.ErrNoRows so
// errorutil maps both the same way.
var ErrNotFound = pgx.ErrNoRows

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store groups the repositories that must change together.
type Store interface {
	Tickets() TicketRepository
	Messages() TicketMessageRepository
	Attachments() AttachmentRepository
	History() TicketHistoryRepository
	Webhooks() WebhookRepository
	WebhookLogs() WebhookLogRepository

	// WithinTx runs fn against a transactional Store. The transaction commits
	// when fn returns nil and rolls back otherwise. Nested calls join the
	// outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type pgStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

// NewPostgresStore builds a Store backed by the pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

func (s *pgStore) Tickets() TicketRepository         { return &ticketRepository{db: s.db} }
func (s *pgStore) Messages() TicketMessageRepository { return &ticketMessageRepository{db: s.db} }
func (s *pgStore) Attachments() AttachmentRepository { return &attachmentRepository{db: s.db} }
func (s *pgStore) History() TicketHistoryRepository  { return &ticketHistoryRepository{db: s.db} }
func (s *pgStore) Webhooks() WebhookRepository       { return &webhookRepository{db: s.db} }
func (s *pgStore) WebhookLogs() WebhookLogRepository { return &webhookLogRepository{db: s.db} }

func (s *pgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	if s.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgStore{pool: s.pool, db: tx, inTx: true})
	})
}
