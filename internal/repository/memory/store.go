// Package memory is an in-process repository.Store used by tests and by the
// server when no Postgres DSN is configured.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// ErrConstraint reports a violated uniqueness or foreign key rule.
var ErrConstraint = errors.New("constraint violation")

type state struct {
	tickets     map[string]*domain.Ticket
	counters    map[string]int
	messages    map[string]*domain.TicketMessage
	attachments map[string]*domain.Attachment
	history     []domain.TicketChange
	webhooks    map[string]*domain.Webhook
	logs        []domain.WebhookLog
}

func newState() *state {
	return &state{
		tickets:     map[string]*domain.Ticket{},
		counters:    map[string]int{},
		messages:    map[string]*domain.TicketMessage{},
		attachments: map[string]*domain.Attachment{},
		webhooks:    map[string]*domain.Webhook{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tickets {
		c.tickets[k] = v.Clone()
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = cloneMessage(v)
	}
	for k, v := range s.attachments {
		a := *v
		c.attachments[k] = &a
	}
	c.history = append([]domain.TicketChange(nil), s.history...)
	for k, v := range s.webhooks {
		c.webhooks[k] = v.Clone()
	}
	c.logs = append([]domain.WebhookLog(nil), s.logs...)
	return c
}

type shared struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *state
}

// Store implements repository.Store in memory. Transactions are serialised
// and roll back by restoring a snapshot taken when they began.
type Store struct {
	shared *shared
	inTx   bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{shared: &shared{data: newState()}}
}

var _ repository.Store = (*Store)(nil)

// lock takes the transaction lock for standalone calls so they never
// interleave with a running transaction, then the data lock.
func (s *Store) lock() func() {
	if !s.inTx {
		s.shared.txMu.Lock()
	}
	s.shared.mu.Lock()
	return func() {
		s.shared.mu.Unlock()
		if !s.inTx {
			s.shared.txMu.Unlock()
		}
	}
}

func (s *Store) Tickets() repository.TicketRepository         { return &ticketRepo{s} }
func (s *Store) Messages() repository.TicketMessageRepository { return &messageRepo{s} }
func (s *Store) Attachments() repository.AttachmentRepository { return &attachmentRepo{s} }
func (s *Store) History() repository.TicketHistoryRepository  { return &historyRepo{s} }
func (s *Store) Webhooks() repository.WebhookRepository       { return &webhookRepo{s} }
func (s *Store) WebhookLogs() repository.WebhookLogRepository { return &webhookLogRepo{s} }

// WithinTx runs fn with exclusive access to the store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.shared.txMu.Lock()
	defer s.shared.txMu.Unlock()

	s.shared.mu.Lock()
	snapshot := s.shared.data.clone()
	s.shared.mu.Unlock()

	if err := fn(ctx, &Store{shared: s.shared, inTx: true}); err != nil {
		s.shared.mu.Lock()
		s.shared.data = snapshot
		s.shared.mu.Unlock()
		return err
	}
	return nil
}

func cloneMessage(m *domain.TicketMessage) *domain.TicketMessage {
	c := *m
	c.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	return &c
}

type ticketRepo struct{ s *Store }

func (r *ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if _, exists := data.tickets[ticket.ID]; exists {
		return ErrConstraint
	}
	for _, t := range data.tickets {
		if t.TicketNumber == ticket.TicketNumber && domain.BusinessDay(t.CreatedAt).Equal(domain.BusinessDay(ticket.CreatedAt)) {
			return ErrConstraint
		}
	}
	data.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *ticketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	defer r.s.lock()()
	current, ok := r.s.shared.data.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	updated := ticket.Clone()
	updated.TicketNumber = current.TicketNumber
	updated.CreatedAt = current.CreatedAt
	updated.RequesterID = current.RequesterID
	updated.OriginType = current.OriginType
	updated.OriginID = current.OriginID
	updated.FormSubmissionID = current.FormSubmissionID
	r.s.shared.data.tickets[ticket.ID] = updated
	return nil
}

func (r *ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	defer r.s.lock()()
	ticket, ok := r.s.shared.data.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ticket.Clone(), nil
}

func (r *ticketRepo) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	filter = filter.Normalized()
	defer r.s.lock()()

	var matched []domain.Ticket
	for _, t := range r.s.shared.data.tickets {
		if matchesFilter(t, filter) {
			matched = append(matched, *t.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return page(matched, filter.Limit, filter.Offset), nil
}

func matchesFilter(t *domain.Ticket, f repository.TicketFilter) bool {
	if f.RequesterID != nil && t.RequesterID != *f.RequesterID {
		return false
	}
	if f.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *f.AssigneeID) {
		return false
	}
	if f.OriginType != nil && t.OriginType != *f.OriginType {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, t.Priority) {
		return false
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" && !strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (r *ticketRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	defer r.s.lock()()

	var due []domain.Ticket
	for _, t := range r.s.shared.data.tickets {
		if isDue(t, now) {
			due = append(due, *t.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	return page(due, limit, 0), nil
}

func isDue(t *domain.Ticket, now time.Time) bool {
	return t.Status == domain.TicketStatusScheduled && t.ScheduledAt != nil && !t.ScheduledAt.After(now)
}

func (r *ticketRepo) PromoteScheduled(_ context.Context, id string, status domain.TicketStatus, now time.Time) (bool, error) {
	defer r.s.lock()()
	t, ok := r.s.shared.data.tickets[id]
	if !ok || !isDue(t, now) {
		return false, nil
	}
	t.Status = status
	t.ScheduledAt = nil
	t.UpdatedAt = now
	return true, nil
}

func (r *ticketRepo) NextTicketNumber(_ context.Context, day time.Time) (int, error) {
	defer r.s.lock()()
	key := day.Format("2006-01-02")
	r.s.shared.data.counters[key]++
	return r.s.shared.data.counters[key], nil
}

func (r *ticketRepo) Touch(_ context.Context, id string, at time.Time) error {
	defer r.s.lock()()
	t, ok := r.s.shared.data.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.UpdatedAt = at
	return nil
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Create(_ context.Context, msg *domain.TicketMessage) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if _, ok := data.tickets[msg.TicketID]; !ok {
		return ErrConstraint
	}
	if _, exists := data.messages[msg.ID]; exists {
		return ErrConstraint
	}
	stored := cloneMessage(msg)
	stored.Attachments = nil
	data.messages[msg.ID] = stored
	return nil
}

func (r *messageRepo) GetByID(_ context.Context, id string) (*domain.TicketMessage, error) {
	defer r.s.lock()()
	msg, ok := r.s.shared.data.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (r *messageRepo) GetForUpdate(ctx context.Context, id string) (*domain.TicketMessage, error) {
	return r.GetByID(ctx, id)
}

func (r *messageRepo) UpdateBody(_ context.Context, id, body string, updatedAt time.Time) error {
	defer r.s.lock()()
	msg, ok := r.s.shared.data.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	msg.Body = body
	msg.UpdatedAt = updatedAt
	return nil
}

func (r *messageRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if _, ok := data.messages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(data.messages, id)
	for key, a := range data.attachments {
		if a.MessageID == id {
			delete(data.attachments, key)
		}
	}
	return nil
}

func (r *messageRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	defer r.s.lock()()
	var result []domain.TicketMessage
	for _, msg := range r.s.shared.data.messages {
		if msg.TicketID == ticketID {
			result = append(result, *cloneMessage(msg))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

type attachmentRepo struct{ s *Store }

func (r *attachmentRepo) Create(_ context.Context, attachment *domain.Attachment) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if _, ok := data.messages[attachment.MessageID]; !ok {
		return ErrConstraint
	}
	if _, exists := data.attachments[attachment.ID]; exists {
		return ErrConstraint
	}
	a := *attachment
	data.attachments[a.ID] = &a
	return nil
}

func (r *attachmentRepo) ListByMessage(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	byMessage, err := r.ListByMessages(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	return byMessage[messageID], nil
}

func (r *attachmentRepo) ListByMessages(_ context.Context, messageIDs []string) (map[string][]domain.Attachment, error) {
	defer r.s.lock()()
	result := make(map[string][]domain.Attachment, len(messageIDs))
	for _, a := range r.s.shared.data.attachments {
		if contains(messageIDs, a.MessageID) {
			result[a.MessageID] = append(result[a.MessageID], *a)
		}
	}
	for id := range result {
		list := result[id]
		sort.Slice(list, func(i, j int) bool { return list[i].Position < list[j].Position })
	}
	return result, nil
}

type historyRepo struct{ s *Store }

func (r *historyRepo) Create(_ context.Context, change *domain.TicketChange) error {
	defer r.s.lock()()
	if _, ok := r.s.shared.data.tickets[change.TicketID]; !ok {
		return ErrConstraint
	}
	r.s.shared.data.history = append(r.s.shared.data.history, *change)
	return nil
}

func (r *historyRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketChange, error) {
	defer r.s.lock()()
	var result []domain.TicketChange
	for _, change := range r.s.shared.data.history {
		if change.TicketID == ticketID {
			result = append(result, change)
		}
	}
	return result, nil
}

type webhookRepo struct{ s *Store }

func (r *webhookRepo) Create(_ context.Context, webhook *domain.Webhook) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if _, exists := data.webhooks[webhook.ID]; exists {
		return ErrConstraint
	}
	for _, w := range data.webhooks {
		if w.Token == webhook.Token {
			return ErrConstraint
		}
	}
	data.webhooks[webhook.ID] = webhook.Clone()
	return nil
}

func (r *webhookRepo) Update(_ context.Context, webhook *domain.Webhook) error {
	defer r.s.lock()()
	current, ok := r.s.shared.data.webhooks[webhook.ID]
	if !ok {
		return repository.ErrNotFound
	}
	updated := current.Clone()
	updated.Name = webhook.Name
	updated.SecretHash = webhook.Clone().SecretHash
	updated.Active = webhook.Active
	updated.RequiresApproval = webhook.RequiresApproval
	updated.DefaultPriority = webhook.DefaultPriority
	updated.DefaultCategory = webhook.Clone().DefaultCategory
	updated.DefaultAssignee = webhook.Clone().DefaultAssignee
	updated.UpdatedAt = webhook.UpdatedAt
	r.s.shared.data.webhooks[webhook.ID] = updated
	return nil
}

func (r *webhookRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if _, ok := data.webhooks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(data.webhooks, id)
	kept := data.logs[:0]
	for _, log := range data.logs {
		if log.WebhookID == nil || *log.WebhookID != id {
			kept = append(kept, log)
		}
	}
	data.logs = kept
	return nil
}

func (r *webhookRepo) GetByID(_ context.Context, id string) (*domain.Webhook, error) {
	defer r.s.lock()()
	w, ok := r.s.shared.data.webhooks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return w.Clone(), nil
}

func (r *webhookRepo) GetByToken(_ context.Context, token string) (*domain.Webhook, error) {
	defer r.s.lock()()
	for _, w := range r.s.shared.data.webhooks {
		if w.Token == token {
			return w.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *webhookRepo) List(_ context.Context, limit, offset int) ([]domain.Webhook, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	defer r.s.lock()()
	var result []domain.Webhook
	for _, w := range r.s.shared.data.webhooks {
		result = append(result, *w.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return page(result, limit, offset), nil
}

func (r *webhookRepo) IncrementCounters(_ context.Context, id string, success bool, at time.Time) error {
	defer r.s.lock()()
	w, ok := r.s.shared.data.webhooks[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.TotalCalls++
	if success {
		w.SuccessCalls++
	} else {
		w.ErrorCalls++
	}
	called := at
	w.LastCalledAt = &called
	return nil
}

func (r *webhookRepo) UpdateToken(_ context.Context, id, token string, at time.Time) error {
	defer r.s.lock()()
	data := r.s.shared.data
	w, ok := data.webhooks[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, other := range data.webhooks {
		if other.ID != id && other.Token == token {
			return ErrConstraint
		}
	}
	w.Token = token
	w.UpdatedAt = at
	return nil
}

type webhookLogRepo struct{ s *Store }

func (r *webhookLogRepo) Create(_ context.Context, log *domain.WebhookLog) error {
	defer r.s.lock()()
	data := r.s.shared.data
	if log.WebhookID != nil {
		if _, ok := data.webhooks[*log.WebhookID]; !ok {
			return ErrConstraint
		}
	}
	data.logs = append(data.logs, *log)
	return nil
}

func (r *webhookLogRepo) ListByWebhook(_ context.Context, webhookID string, limit, offset int) ([]domain.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	defer r.s.lock()()
	var result []domain.WebhookLog
	for i := len(r.s.shared.data.logs) - 1; i >= 0; i-- {
		log := r.s.shared.data.logs[i]
		if log.WebhookID != nil && *log.WebhookID == webhookID {
			result = append(result, log)
		}
	}
	return page(result, limit, offset), nil
}

// AllWebhookLogs returns every log row in insertion order, including rows
// without a webhook.
func (s *Store) AllWebhookLogs() []domain.WebhookLog {
	defer s.lock()()
	return append([]domain.WebhookLog(nil), s.shared.data.logs...)
}

// TicketCount returns the number of stored tickets.
func (s *Store) TicketCount() int {
	defer s.lock()()
	return len(s.shared.data.tickets)
}
