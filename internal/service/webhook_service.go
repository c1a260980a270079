package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// tokenBytes gives 256 bits of randomness per webhook URL token.
const tokenBytes = 32

// WebhookService manages inbound webhook definitions and their call counters.
type WebhookService struct {
	store      repository.Store
	clock      clock.Clock
	logger     *zap.Logger
	secretCost int
}

// WebhookDependencies bundles collaborators.
type WebhookDependencies struct {
	Store  repository.Store
	Clock  clock.Clock
	Logger *zap.Logger

	// SecretCost is the bcrypt cost for shared secrets, bcrypt.DefaultCost when zero.
	SecretCost int
}

// WebhookCreateInput describes a new webhook.
type WebhookCreateInput struct {
	Name             string
	SecretKey        *string
	Active           *bool
	RequiresApproval bool
	DefaultPriority  domain.TicketPriority
	DefaultCategory  *string
	DefaultAssignee  *string
}

// WebhookUpdateInput holds partial updates. ClearSecret removes the secret.
type WebhookUpdateInput struct {
	Name             *string
	SecretKey        *string
	ClearSecret      bool
	Active           *bool
	RequiresApproval *bool
	DefaultPriority  *domain.TicketPriority
	DefaultCategory  *string
	DefaultAssignee  *string
}

// NewWebhookService creates the service.
func NewWebhookService(deps WebhookDependencies) *WebhookService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := deps.SecretCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &WebhookService{store: deps.Store, clock: clk, logger: logger, secretCost: cost}
}

// Create registers a webhook with a fresh URL token.
func (s *WebhookService) Create(ctx context.Context, input WebhookCreateInput) (*domain.Webhook, error) {
	name := strings.TrimSpace(input.Name)
	details := map[string]any{}
	if name == "" {
		details["name"] = "required"
	}
	priority := input.DefaultPriority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		details["default_priority"] = "must be one of low, medium, high, urgent"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid webhook", details)
	}

	token, err := generateToken()
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	secretHash, err := s.hashSecret(input.SecretKey)
	if err != nil {
		return nil, err
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	now := s.clock.Now()
	webhook := &domain.Webhook{
		ID:               uuid.NewString(),
		Name:             name,
		Token:            token,
		SecretHash:       secretHash,
		Active:           active,
		RequiresApproval: input.RequiresApproval,
		DefaultPriority:  priority,
		DefaultCategory:  input.DefaultCategory,
		DefaultAssignee:  input.DefaultAssignee,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Webhooks().Create(ctx, webhook); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("webhook created", zap.String("webhook_id", webhook.ID), zap.String("name", webhook.Name))
	return webhook, nil
}

// Get returns one webhook.
func (s *WebhookService) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	webhook, err := s.store.Webhooks().GetByID(ctx, id)
	if err != nil {
		return nil, webhookLookupError(id, err)
	}
	return webhook, nil
}

// List returns webhooks, newest first.
func (s *WebhookService) List(ctx context.Context, limit, offset int) ([]domain.Webhook, error) {
	webhooks, err := s.store.Webhooks().List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return webhooks, nil
}

// Update applies the provided fields. Counters and token never change here.
func (s *WebhookService) Update(ctx context.Context, id string, input WebhookUpdateInput) (*domain.Webhook, error) {
	var webhook *domain.Webhook
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		webhook, err = tx.Webhooks().GetByID(ctx, id)
		if err != nil {
			return webhookLookupError(id, err)
		}
		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return apperrors.NewValidationError("invalid webhook", map[string]any{"name": "required"})
			}
			webhook.Name = name
		}
		if input.ClearSecret {
			webhook.SecretHash = nil
		} else if input.SecretKey != nil {
			hash, err := s.hashSecret(input.SecretKey)
			if err != nil {
				return err
			}
			webhook.SecretHash = hash
		}
		if input.Active != nil {
			webhook.Active = *input.Active
		}
		if input.RequiresApproval != nil {
			webhook.RequiresApproval = *input.RequiresApproval
		}
		if input.DefaultPriority != nil {
			if !input.DefaultPriority.Valid() {
				return apperrors.NewValidationError("invalid webhook",
					map[string]any{"default_priority": "must be one of low, medium, high, urgent"})
			}
			webhook.DefaultPriority = *input.DefaultPriority
		}
		if input.DefaultCategory != nil {
			webhook.DefaultCategory = emptyToNil(input.DefaultCategory)
		}
		if input.DefaultAssignee != nil {
			webhook.DefaultAssignee = emptyToNil(input.DefaultAssignee)
		}
		webhook.UpdatedAt = s.clock.Now()
		if err := tx.Webhooks().Update(ctx, webhook); err != nil {
			return apperrors.MapError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return webhook, nil
}

// Delete removes the webhook and, by cascade, its logs.
func (s *WebhookService) Delete(ctx context.Context, id string) error {
	if err := s.store.Webhooks().Delete(ctx, id); err != nil {
		return webhookLookupError(id, err)
	}
	s.logger.Info("webhook deleted", zap.String("webhook_id", id))
	return nil
}

// RotateToken replaces the URL token. The old URL stops working immediately.
func (s *WebhookService) RotateToken(ctx context.Context, id string) (*domain.Webhook, error) {
	token, err := generateToken()
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.store.Webhooks().UpdateToken(ctx, id, token, s.clock.Now()); err != nil {
		return nil, webhookLookupError(id, err)
	}
	return s.Get(ctx, id)
}

// ListLogs returns delivery logs of a webhook, newest first.
func (s *WebhookService) ListLogs(ctx context.Context, id string, limit, offset int) ([]domain.WebhookLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.store.WebhookLogs().ListByWebhook(ctx, id, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return logs, nil
}

// RecordCall counts one call with a single atomic increment inside tx.
func (s *WebhookService) RecordCall(ctx context.Context, tx repository.Store, id string, success bool) error {
	if tx == nil {
		tx = s.store
	}
	if err := tx.Webhooks().IncrementCounters(ctx, id, success, s.clock.Now()); err != nil {
		return webhookLookupError(id, err)
	}
	return nil
}

func webhookLookupError(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("webhook", map[string]any{"webhook_id": id})
	}
	return apperrors.MapError(err)
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hashSecret stores only a bcrypt hash of the secret. Empty secrets mean none.
func (s *WebhookService) hashSecret(secret *string) (*string, error) {
	if secret == nil || *secret == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword(secretDigest(*secret), s.secretCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	h := string(hash)
	return &h, nil
}

// secretDigest pre-hashes the secret so secrets longer than bcrypt's 72 byte
// input limit are still compared in full.
func secretDigest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}

// secretMatches checks a presented secret against the stored hash.
func secretMatches(hash, provided string) bool {
	if provided == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), secretDigest(provided)) == nil
}

func emptyToNil(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}
