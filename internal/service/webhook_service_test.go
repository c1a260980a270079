package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func TestWebhookService_CreateDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hook, err := h.webhooks.Create(ctx, WebhookCreateInput{Name: " Monitoring ", SecretKey: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "Monitoring", hook.Name)
	assert.True(t, hook.Active)
	assert.False(t, hook.HasSecret())
	assert.Equal(t, domain.TicketPriorityMedium, hook.DefaultPriority)
	assert.Len(t, hook.Token, 2*tokenBytes)
	assert.Zero(t, hook.TotalCalls)

	other, err := h.webhooks.Create(ctx, WebhookCreateInput{Name: "Other"})
	require.NoError(t, err)
	assert.NotEqual(t, hook.Token, other.Token)

	_, err = h.webhooks.Create(ctx, WebhookCreateInput{Name: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = h.webhooks.Create(ctx, WebhookCreateInput{Name: "x", DefaultPriority: "p0"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	list, err := h.webhooks.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWebhookService_UpdateAndRotate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hook, err := h.webhooks.Create(ctx, WebhookCreateInput{Name: "CI", SecretKey: ptr("abc")})
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	updated, err := h.webhooks.Update(ctx, hook.ID, WebhookUpdateInput{
		Active:          ptr(false),
		DefaultPriority: ptr(domain.TicketPriorityHigh),
		DefaultAssignee: ptr("agent-3"),
		ClearSecret:     true,
	})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.False(t, updated.HasSecret())
	assert.Equal(t, domain.TicketPriorityHigh, updated.DefaultPriority)
	assert.Equal(t, "agent-3", *updated.DefaultAssignee)
	assert.Equal(t, hook.Token, updated.Token)
	assert.True(t, updated.UpdatedAt.After(hook.CreatedAt))

	_, err = h.webhooks.Update(ctx, hook.ID, WebhookUpdateInput{Name: ptr("")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	rotated, err := h.webhooks.RotateToken(ctx, hook.ID)
	require.NoError(t, err)
	assert.NotEqual(t, hook.Token, rotated.Token)

	_, err = h.store.Webhooks().GetByToken(ctx, hook.Token)
	assert.Error(t, err)

	_, err = h.webhooks.RotateToken(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestWebhookService_DeleteCascadesLogs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hook, err := h.webhooks.Create(ctx, WebhookCreateInput{Name: "Alerts"})
	require.NoError(t, err)

	_, err = h.receiver.Receive(ctx, hook.Token, nil, []byte(`{"title":"CPU high"}`))
	require.NoError(t, err)
	logs, err := h.webhooks.ListLogs(ctx, hook.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	require.NoError(t, h.webhooks.Delete(ctx, hook.ID))
	assert.Empty(t, h.store.AllWebhookLogs())

	_, err = h.webhooks.Get(ctx, hook.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	err = h.webhooks.Delete(ctx, hook.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	// Tickets are only back-referenced and survive.
	assert.Equal(t, 1, h.store.TicketCount())
}

func TestWebhookService_RecordCallConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hook, err := h.webhooks.Create(ctx, WebhookCreateInput{Name: "Load"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.webhooks.RecordCall(ctx, nil, hook.ID, i%5 != 0))
		}(i)
	}
	wg.Wait()

	got, err := h.webhooks.Get(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.TotalCalls)
	assert.Equal(t, int64(40), got.SuccessCalls)
	assert.Equal(t, int64(10), got.ErrorCalls)
	assert.InDelta(t, 0.8, got.SuccessRate(), 1e-9)
	require.NotNil(t, got.LastCalledAt)

	err = h.webhooks.RecordCall(ctx, nil, "missing", true)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestTruncatePayload(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		limit     int
		want      string
		truncated bool
	}{
		{"fits", "hello", 5, "hello", false},
		{"ascii cut", "hello world", 5, "hello", true},
		{"no split rune", "aé", 2, "a", true},
		{"multibyte fits", "éé", 4, "éé", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, truncated := truncatePayload([]byte(tc.raw), tc.limit)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.truncated, truncated)
		})
	}
}

func TestWebhookService_SecretStoredAsHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	long := strings.Repeat("k", 80)

	hook, err := h.webhooks.Create(ctx, WebhookCreateInput{Name: "CI", SecretKey: ptr(long + "1")})
	require.NoError(t, err)
	stored, err := h.store.Webhooks().GetByID(ctx, hook.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SecretHash)
	assert.NotContains(t, *stored.SecretHash, long)
	assert.True(t, secretMatches(*stored.SecretHash, long+"1"))
	assert.False(t, secretMatches(*stored.SecretHash, long+"2"), "bytes past 72 still count")
	assert.False(t, secretMatches(*stored.SecretHash, ""))

	updated, err := h.webhooks.Update(ctx, hook.ID, WebhookUpdateInput{SecretKey: ptr("rotated")})
	require.NoError(t, err)
	assert.True(t, secretMatches(*updated.SecretHash, "rotated"))
	assert.False(t, secretMatches(*updated.SecretHash, long+"1"))
}
