package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence/pgtest"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// newPostgresHarnesses returns n harnesses sharing one migrated schema. Their
// memory store handle is nil; read state through the returned store.
func newPostgresHarnesses(t *testing.T, n int) (repository.Store, []*harness) {
	t.Helper()
	store := repository.NewPostgresStore(pgtest.New(t))
	hs := make([]*harness, n)
	for i := range hs {
		hs[i] = buildHarness(t, nil, store, false)
	}
	return store, hs
}

func TestPostgresReceiver_NonUTF8Payloads(t *testing.T) {
	store, hs := newPostgresHarnesses(t, 1)
	h := hs[0]
	ctx := context.Background()
	hook := h.newWebhook(t, WebhookCreateInput{})

	ticket, err := h.receiver.Receive(ctx, hook.Token, nil, []byte("{\"title\":\"disk \xff\xfe full\"}"))
	require.NoError(t, err)
	stored, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(stored.Description))

	_, err = h.receiver.Receive(ctx, hook.Token, nil, []byte("\x00\x01garbage"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMalformedPayload), "got %v", err)

	logs, err := store.WebhookLogs().ListByWebhook(ctx, hook.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, log := range logs {
		assert.True(t, log.PayloadSanitized)
		assert.True(t, utf8.ValidString(log.Payload))
	}
}

func TestPostgresReceiver_CountersStayConsistent(t *testing.T) {
	store, hs := newPostgresHarnesses(t, 1)
	h := hs[0]
	ctx := context.Background()
	hook := h.newWebhook(t, WebhookCreateInput{SecretKey: ptr("s3cret")})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers := map[string]string{"x-webhook-secret": "s3cret"}
			body := []byte(`{"title":"event"}`)
			switch i % 3 {
			case 1:
				headers["x-webhook-secret"] = "wrong"
			case 2:
				body = []byte(`oops`)
			}
			_, _ = h.receiver.Receive(ctx, hook.Token, headers, body)
		}(i)
	}
	wg.Wait()

	got, err := store.Webhooks().GetByID(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.TotalCalls)
	assert.Equal(t, int64(10), got.SuccessCalls)
	assert.Equal(t, int64(20), got.ErrorCalls)

	logs, err := store.WebhookLogs().ListByWebhook(ctx, hook.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 30)

	tickets, err := h.tickets.List(ctx, TicketListFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, tickets, 10)
	seen := map[int]bool{}
	for _, ticket := range tickets {
		assert.False(t, seen[ticket.TicketNumber])
		seen[ticket.TicketNumber] = true
	}
}

func TestPostgresSweep_ConcurrentSweepsPromoteOnce(t *testing.T) {
	store, hs := newPostgresHarnesses(t, 2)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, hs[0].createTicket(t, TicketCreateInput{ScheduledAt: ptr(baseTime.Add(time.Hour))}).ID)
	}
	for _, h := range hs {
		h.clock.Advance(2 * time.Hour)
	}

	counts := make([]int, len(hs))
	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func(i int, h *harness) {
			defer wg.Done()
			n, err := h.scheduling.PromoteDue(ctx)
			assert.NoError(t, err)
			counts[i] = n
		}(i, h)
	}
	wg.Wait()
	assert.Equal(t, 5, counts[0]+counts[1])

	for _, id := range ids {
		got, err := store.Tickets().GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusOpen, got.Status)
		assert.Nil(t, got.ScheduledAt)
		promotions := 0
		for _, body := range hs[0].systemMessages(t, id) {
			if strings.HasPrefix(body, "Scheduled time reached") {
				promotions++
			}
		}
		assert.Equal(t, 1, promotions)
	}
}

func TestPostgresPause_ConcurrentResume(t *testing.T) {
	store, hs := newPostgresHarnesses(t, 1)
	h := hs[0]
	ctx := context.Background()
	ticket := h.inProgressTicket(t)
	_, err := h.pause.Pause(ctx, agent, ticket.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	var (
		mu        sync.Mutex
		resumed   int
		notPaused int
		wg        sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.pause.Resume(ctx, agent, ticket.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				resumed++
			case apperrors.HasCode(err, apperrors.CodeNotPaused):
				notPaused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, resumed)
	assert.Equal(t, 3, notPaused)

	got, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaused)
	assert.Equal(t, time.Minute, got.PausedDuration)
}
