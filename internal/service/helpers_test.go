package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/storage"
)

// 12:00 UTC is 09:00 in Sao Paulo, so the business day is 2024-03-15.
var baseTime = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

var (
	agent     = domain.Actor{Type: domain.ActorTypeUser, ID: "agent-1", Role: domain.RoleAgent}
	otherUser = domain.Actor{Type: domain.ActorTypeUser, ID: "agent-2", Role: domain.RoleAgent}
	admin     = domain.Actor{Type: domain.ActorTypeUser, ID: "admin-1", Role: domain.RoleAdmin}
)

type harness struct {
	store      *memory.Store
	clock      *clock.FakeClock
	events     *events.Recorder
	tickets    *TicketService
	approval   *ApprovalService
	scheduling *SchedulingService
	pause      *PauseService
	messages   *MessageService
	webhooks   *WebhookService
	receiver   *WebhookReceiver
	files      *storage.LocalStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewStore(), false)
}

func newHarnessWithStore(t *testing.T, backing *memory.Store, autoStart bool) *harness {
	t.Helper()
	return buildHarness(t, backing, backing, autoStart)
}

func buildHarness(t *testing.T, backing *memory.Store, store repository.Store, autoStart bool) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := clock.Fake(baseTime)
	recorder := &events.Recorder{}
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	approval := NewApprovalService(ApprovalDependencies{Store: store, Dispatcher: recorder, Clock: clk, Logger: logger})
	tickets := NewTicketService(TicketDependencies{Store: store, Approval: approval, Dispatcher: recorder, Clock: clk, Logger: logger})
	webhooks := NewWebhookService(WebhookDependencies{Store: store, Clock: clk, Logger: logger, SecretCost: bcrypt.MinCost})
	return &harness{
		store:    backing,
		clock:    clk,
		events:   recorder,
		tickets:  tickets,
		approval: approval,
		scheduling: NewSchedulingService(SchedulingDependencies{
			Store: store, Dispatcher: recorder, Clock: clk, Logger: logger, AutoStart: autoStart,
		}),
		pause:    NewPauseService(PauseDependencies{Store: store, Dispatcher: recorder, Clock: clk, Logger: logger}),
		messages: NewMessageService(MessageDependencies{Store: store, Files: files, Dispatcher: recorder, Clock: clk, Logger: logger}),
		webhooks: webhooks,
		receiver: NewWebhookReceiver(WebhookReceiverDependencies{
			Store:      store,
			Tickets:    tickets,
			Registry:   webhooks,
			Deliveries: NewDeliveryLogger(clk, logger, 256),
			Dispatcher: recorder,
			Clock:      clk,
			Logger:     logger,
		}),
		files: files,
	}
}

func (h *harness) createTicket(t *testing.T, input TicketCreateInput) *domain.Ticket {
	t.Helper()
	if input.Title == "" {
		input.Title = "Printer on fire"
	}
	if input.RequesterID == "" {
		input.RequesterID = "requester-1"
	}
	ticket, err := h.tickets.Create(context.Background(), input, domain.Origin{Type: domain.OriginManual})
	require.NoError(t, err)
	return ticket
}

func (h *harness) inProgressTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket := h.createTicket(t, TicketCreateInput{})
	ticket, err := h.tickets.UpdateField(context.Background(), agent, ticket.ID, domain.ChangeFieldStatus, ptr("in_progress"))
	require.NoError(t, err)
	return ticket
}

func (h *harness) pendingTicket(t *testing.T, scheduledAt *time.Time) *domain.Ticket {
	t.Helper()
	formID := "form-1"
	ticket, err := h.tickets.Create(context.Background(), TicketCreateInput{
		Title:       "Access request",
		RequesterID: "requester-1",
		ScheduledAt: scheduledAt,
	}, domain.Origin{Type: domain.OriginForm, ID: &formID, RequiresApproval: true})
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusPendingApproval, ticket.Status)
	return ticket
}

func (h *harness) systemMessages(t *testing.T, ticketID string) []string {
	t.Helper()
	msgs, err := h.messages.List(context.Background(), ticketID)
	require.NoError(t, err)
	var bodies []string
	for _, m := range msgs {
		if m.IsSystem() {
			bodies = append(bodies, m.Body)
		}
	}
	return bodies
}

func ptr[T any](v T) *T {
	return &v
}

// failingLogStore rejects every delivery log write, inside or outside a
// transaction.
type failingLogStore struct {
	repository.Store
}

func (s failingLogStore) WebhookLogs() repository.WebhookLogRepository {
	return failingLogRepo{}
}

func (s failingLogStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, failingLogStore{Store: tx})
	})
}

type failingLogRepo struct{}

func (failingLogRepo) Create(context.Context, *domain.WebhookLog) error {
	return errors.New("log table unavailable")
}

func (failingLogRepo) ListByWebhook(context.Context, string, int, int) ([]domain.WebhookLog, error) {
	return nil, errors.New("log table unavailable")
}

// lookupStore intercepts token lookups made outside a transaction.
type lookupStore struct {
	repository.Store
	getByToken func(ctx context.Context, token string) (*domain.Webhook, error)
}

func (s lookupStore) Webhooks() repository.WebhookRepository {
	return lookupRepo{WebhookRepository: s.Store.Webhooks(), getByToken: s.getByToken}
}

type lookupRepo struct {
	repository.WebhookRepository
	getByToken func(ctx context.Context, token string) (*domain.Webhook, error)
}

func (r lookupRepo) GetByToken(ctx context.Context, token string) (*domain.Webhook, error) {
	return r.getByToken(ctx, token)
}
