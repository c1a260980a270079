package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// DefaultMaxLogPayloadBytes caps the payload stored per delivery log.
const DefaultMaxLogPayloadBytes = 64 * 1024

// DeliveryLogger writes the immutable audit row of every inbound call.
type DeliveryLogger struct {
	clock      clock.Clock
	logger     *zap.Logger
	maxPayload int
}

// DeliveryRecord describes one inbound call outcome.
type DeliveryRecord struct {
	WebhookID    *string
	Status       domain.WebhookLogStatus
	ResponseCode int
	Reason       *domain.WebhookFailureReason
	Message      string
	Payload      []byte
	TicketID     *string
	// Truncated marks a payload already cut before reaching the logger.
	Truncated    bool
}

// NewDeliveryLogger creates the logger. maxPayload <= 0 uses the default.
func NewDeliveryLogger(clk clock.Clock, logger *zap.Logger, maxPayload int) *DeliveryLogger {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxLogPayloadBytes
	}
	return &DeliveryLogger{clock: clk, logger: logger, maxPayload: maxPayload}
}

// Record persists rec inside tx.
func (d *DeliveryLogger) Record(ctx context.Context, tx repository.Store, rec DeliveryRecord) (*domain.WebhookLog, error) {
	cleaned, sanitized := cleanText(rec.Payload)
	payload, truncated := truncatePayload([]byte(cleaned), d.maxPayload)
	entry := &domain.WebhookLog{
		ID:               uuid.NewString(),
		WebhookID:        rec.WebhookID,
		Status:           rec.Status,
		ErrorReason:      rec.Reason,
		Payload:          payload,
		PayloadTruncated: truncated || rec.Truncated,
		PayloadSanitized: sanitized,
		TicketID:         rec.TicketID,
		CreatedAt:        d.clock.Now(),
	}
	if rec.ResponseCode != 0 {
		code := rec.ResponseCode
		entry.ResponseCode = &code
	}
	if rec.Message != "" {
		msg, _ := cleanText([]byte(rec.Message))
		entry.ErrorMessage = &msg
	}
	if err := tx.WebhookLogs().Create(ctx, entry); err != nil {
		d.logger.Error("webhook delivery log write failed", zap.Error(err))
		return nil, apperrors.NewUnavailable(err)
	}
	return entry, nil
}

// cleanText makes raw storable as TEXT: invalid UTF-8 becomes U+FFFD and NUL
// bytes are dropped. It reports whether anything was replaced.
func cleanText(raw []byte) (string, bool) {
	s := string(raw)
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s, false
	}
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", ""), true
}

// truncatePayload caps raw at limit bytes without splitting a UTF-8 sequence.
func truncatePayload(raw []byte, limit int) (string, bool) {
	if len(raw) <= limit {
		return string(raw), false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return string(raw[:cut]), true
}
