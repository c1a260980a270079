package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/storage"
)

const testBodyLimit = 4 * 1024 * 1024

type testServer struct {
	app   *fiber.App
	clock *clock.FakeClock
	store *memory.Store
	token string
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := clock.Fake(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	dispatcher := events.NewInMemoryDispatcher(logger)
	metrics := observability.NewMetrics()
	metrics.Subscribe(dispatcher)
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	approval := service.NewApprovalService(service.ApprovalDependencies{Store: store, Dispatcher: dispatcher, Clock: clk, Logger: logger})
	tickets := service.NewTicketService(service.TicketDependencies{Store: store, Approval: approval, Dispatcher: dispatcher, Clock: clk, Logger: logger})
	webhooks := service.NewWebhookService(service.WebhookDependencies{Store: store, Clock: clk, Logger: logger, SecretCost: bcrypt.MinCost})
	receiver := service.NewWebhookReceiver(service.WebhookReceiverDependencies{
		Store:      store,
		Tickets:    tickets,
		Registry:   webhooks,
		Deliveries: service.NewDeliveryLogger(clk, logger, 0),
		Dispatcher: dispatcher,
		Clock:      clk,
		Logger:     logger,
	})

	tokens := auth.NewTokenManager("test-secret", 5)
	app := NewApp("helpdesk", testBodyLimit)
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("helpdesk", "test", nil),
		Tickets: handlers.NewTicketsHandler(handlers.TicketServices{
			Tickets:    tickets,
			Approval:   approval,
			Scheduling: service.NewSchedulingService(service.SchedulingDependencies{Store: store, Dispatcher: dispatcher, Clock: clk, Logger: logger}),
			Pause:      service.NewPauseService(service.PauseDependencies{Store: store, Dispatcher: dispatcher, Clock: clk, Logger: logger}),
		}),
		Messages:       handlers.NewMessagesHandler(service.NewMessageService(service.MessageDependencies{Store: store, Files: files, Dispatcher: dispatcher, Clock: clk, Logger: logger})),
		Webhooks:       handlers.NewWebhooksHandler(webhooks),
		WebhookReceive: handlers.NewWebhookReceiveHandler(receiver),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
		BodyLimit:      testBodyLimit,
	})

	token, _, err := tokens.GenerateToken("agent-1", domain.RoleAgent)
	require.NoError(t, err)
	return &testServer{app: app, clock: clk, store: store, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	return resp.StatusCode, env
}

func (s *testServer) authed(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{fiber.HeaderAuthorization: "Bearer " + s.token})
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type ticketView struct {
	ID             string `json:"id"`
	DisplayID      string `json:"display_id"`
	RoutingID      string `json:"routing_id"`
	Status         string `json:"status"`
	Priority       string `json:"priority"`
	IsPaused       bool   `json:"is_paused"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, _ := srv.do(t, fiber.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = srv.do(t, fiber.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, env := srv.do(t, fiber.MethodGet, "/nope", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, env = srv.do(t, fiber.MethodGet, "/api/tickets", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.authed(t, fiber.MethodPost, "/api/tickets", map[string]any{"title": "VPN down"})
	require.Equal(t, fiber.StatusCreated, status)
	created := decode[ticketView](t, env)
	assert.Equal(t, "open", created.Status)
	assert.Equal(t, "medium", created.Priority)
	assert.Equal(t, "2024/03/15/001", created.DisplayID)
	assert.Equal(t, "20240315001", created.RoutingID)

	base := "/api/tickets/" + created.ID
	status, env = srv.authed(t, fiber.MethodPatch, base, map[string]any{"field": "status", "value": "in_progress"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "in_progress", decode[ticketView](t, env).Status)

	srv.clock.Advance(time.Minute)
	status, env = srv.authed(t, fiber.MethodPost, base+"/pause", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, decode[ticketView](t, env).IsPaused)

	status, env = srv.authed(t, fiber.MethodPost, base+"/pause", nil)
	assert.Equal(t, fiber.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_PAUSE_STATE", env.Error.Code)

	srv.clock.Advance(10 * time.Minute)
	status, env = srv.authed(t, fiber.MethodPost, base+"/resume", nil)
	require.Equal(t, fiber.StatusOK, status)
	resumed := decode[ticketView](t, env)
	assert.False(t, resumed.IsPaused)
	assert.Equal(t, int64(60), resumed.ElapsedSeconds)

	status, env = srv.authed(t, fiber.MethodPost, base+"/resolve", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "resolved", decode[ticketView](t, env).Status)

	status, env = srv.authed(t, fiber.MethodPatch, base, map[string]any{"field": "status", "value": "open"})
	assert.Equal(t, fiber.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)

	status, env = srv.authed(t, fiber.MethodGet, base+"/history", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, decode[[]map[string]any](t, env))
}

func TestTicketValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.authed(t, fiber.MethodPost, "/api/tickets", map[string]any{"priority": "p0"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.Contains(t, env.Error.Details, "title")
	assert.Contains(t, env.Error.Details, "priority")

	status, env = srv.authed(t, fiber.MethodPatch, "/api/tickets/missing", map[string]any{"field": "status", "value": "closed"})
	assert.Equal(t, fiber.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestApprovalAndScheduleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.authed(t, fiber.MethodPost, "/api/tickets", map[string]any{
		"title":              "New laptop",
		"form_submission_id": "form-7",
		"requires_approval":  true,
	})
	require.Equal(t, fiber.StatusCreated, status)
	ticket := decode[ticketView](t, env)
	assert.Equal(t, "pending_approval", ticket.Status)

	base := "/api/tickets/" + ticket.ID
	status, env = srv.authed(t, fiber.MethodPost, base+"/reject", map[string]any{"reason": "no budget"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "rejected", decode[ticketView](t, env).Status)

	status, env = srv.authed(t, fiber.MethodPost, base+"/approve", nil)
	assert.Equal(t, fiber.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_PENDING_APPROVAL", env.Error.Code)

	status, env = srv.authed(t, fiber.MethodPost, "/api/tickets", map[string]any{"title": "Patch servers"})
	require.Equal(t, fiber.StatusCreated, status)
	open := decode[ticketView](t, env)

	past := srv.clock.Now().Add(-time.Hour).Format(time.RFC3339)
	status, env = srv.authed(t, fiber.MethodPost, "/api/tickets/"+open.ID+"/schedule", map[string]any{"scheduled_at": past})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_SCHEDULE", env.Error.Code)

	future := srv.clock.Now().Add(time.Hour).Format(time.RFC3339)
	status, env = srv.authed(t, fiber.MethodPost, "/api/tickets/"+open.ID+"/schedule", map[string]any{"scheduled_at": future})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "scheduled", decode[ticketView](t, env).Status)

	status, env = srv.authed(t, fiber.MethodDelete, "/api/tickets/"+open.ID+"/schedule", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "open", decode[ticketView](t, env).Status)
}

func TestWebhookReceiveOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.authed(t, fiber.MethodPost, "/api/webhooks", map[string]any{
		"name":             "Monitoring",
		"secret_key":       "s3cret",
		"default_priority": "high",
	})
	require.Equal(t, fiber.StatusCreated, status)
	webhook := decode[struct {
		ID        string `json:"id"`
		Token     string `json:"token"`
		HasSecret bool   `json:"has_secret"`
	}](t, env)
	assert.True(t, webhook.HasSecret)

	receive := "/api/webhooks/receive/" + webhook.Token
	status, env = srv.do(t, fiber.MethodPost, receive, []byte(`{"title":"CPU at 99%"}`), map[string]string{
		fiber.HeaderContentType: fiber.MIMEApplicationJSON,
		"X-Webhook-Secret":      "s3cret",
	})
	require.Equal(t, fiber.StatusCreated, status)
	receipt := decode[struct {
		TicketID  string `json:"ticket_id"`
		DisplayID string `json:"display_id"`
		RoutingID string `json:"routing_id"`
		Status    string `json:"status"`
	}](t, env)
	assert.NotEmpty(t, receipt.TicketID)
	assert.Equal(t, "2024/03/15/001", receipt.DisplayID)
	assert.Equal(t, "20240315001", receipt.RoutingID)
	assert.Equal(t, "open", receipt.Status)

	status, env = srv.do(t, fiber.MethodPost, receive, []byte(`{"title":"x"}`), map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTHENTICATION_FAILED", env.Error.Code)

	status, env = srv.do(t, fiber.MethodPost, receive, []byte(`not json`), map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "MALFORMED_PAYLOAD", env.Error.Code)

	status, _ = srv.do(t, fiber.MethodPost, "/api/webhooks/receive/unknown", []byte(`{}`), nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, env = srv.authed(t, fiber.MethodGet, "/api/webhooks/"+webhook.ID, nil)
	require.Equal(t, fiber.StatusOK, status)
	counters := decode[struct {
		TotalCalls   int64 `json:"total_calls"`
		SuccessCalls int64 `json:"success_calls"`
		ErrorCalls   int64 `json:"error_calls"`
	}](t, env)
	assert.Equal(t, int64(3), counters.TotalCalls)
	assert.Equal(t, int64(1), counters.SuccessCalls)
	assert.Equal(t, int64(2), counters.ErrorCalls)

	status, env = srv.authed(t, fiber.MethodGet, "/api/webhooks/"+webhook.ID+"/logs", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, env), 3)

	status, env = srv.authed(t, fiber.MethodPost, "/api/webhooks/"+webhook.ID+"/rotate-token", nil)
	require.Equal(t, fiber.StatusOK, status)
	rotated := decode[struct {
		Token string `json:"token"`
	}](t, env)
	assert.NotEqual(t, webhook.Token, rotated.Token)

	status, _ = srv.do(t, fiber.MethodPost, receive, []byte(`{"title":"x"}`), map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = srv.authed(t, fiber.MethodDelete, "/api/webhooks/"+webhook.ID, nil)
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _ = srv.authed(t, fiber.MethodGet, "/api/webhooks/"+webhook.ID, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestWebhookReceiveOversizedBody(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.authed(t, fiber.MethodPost, "/api/webhooks", map[string]any{"name": "Bulk exporter"})
	require.Equal(t, fiber.StatusCreated, status)
	webhook := decode[struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}](t, env)

	big := []byte(fmt.Sprintf(`{"title":"huge","blob":%q}`, strings.Repeat("x", 5*1024*1024)))
	status, env = srv.do(t, fiber.MethodPost, "/api/webhooks/receive/"+webhook.Token, big, nil)
	require.Equal(t, fiber.StatusRequestEntityTooLarge, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", env.Error.Code)

	logs := srv.store.AllWebhookLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ReasonMalformedPayload, *logs[0].ErrorReason)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, *logs[0].ResponseCode)
	assert.True(t, logs[0].PayloadTruncated)
	assert.Len(t, logs[0].Payload, service.DefaultMaxLogPayloadBytes)
	assert.Zero(t, srv.store.TicketCount())

	status, env = srv.authed(t, fiber.MethodGet, "/api/webhooks/"+webhook.ID, nil)
	require.Equal(t, fiber.StatusOK, status)
	counters := decode[struct {
		Total  int64 `json:"total_calls"`
		Errors int64 `json:"error_calls"`
	}](t, env)
	assert.Equal(t, int64(1), counters.Total)
	assert.Equal(t, int64(1), counters.Errors)

	// Admin routes keep the app wide limit.
	status, env = srv.authed(t, fiber.MethodPost, "/api/tickets", big)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, status)
	require.NotNil(t, env.Error)
}

func TestMessagesOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.authed(t, fiber.MethodPost, "/api/tickets", map[string]any{"title": "Broken monitor"})
	require.Equal(t, fiber.StatusCreated, status)
	ticket := decode[ticketView](t, env)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("body", "<b>see</b> photo"))
	part, err := writer.CreateFormFile("attachments", "monitor.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("cracked screen"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/api/tickets/"+ticket.ID+"/messages", &buf)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+srv.token)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()

	msg := decode[struct {
		ID          string `json:"id"`
		Body        string `json:"body"`
		Attachments []struct {
			FileName  string `json:"file_name"`
			SizeBytes int64  `json:"size_bytes"`
			URL       string `json:"url"`
		} `json:"attachments"`
	}](t, created)
	assert.Equal(t, "<b>see</b> photo", msg.Body)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, int64(len("cracked screen")), msg.Attachments[0].SizeBytes)

	req = httptest.NewRequest(fiber.MethodGet, msg.Attachments[0].URL, nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+srv.token)
	resp, err = srv.app.Test(req, -1)
	require.NoError(t, err)
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "cracked screen", string(content))

	srv.clock.Advance(time.Minute)
	status, env = srv.authed(t, fiber.MethodPatch, "/api/messages/"+msg.ID, map[string]any{"body": "updated"})
	require.Equal(t, fiber.StatusOK, status)
	edited := decode[struct {
		Body   string `json:"body"`
		Edited bool   `json:"edited"`
	}](t, env)
	assert.Equal(t, "updated", edited.Body)
	assert.True(t, edited.Edited)

	status, env = srv.authed(t, fiber.MethodPost, "/api/tickets/"+ticket.ID+"/messages", map[string]any{"body": "  "})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)

	status, _ = srv.authed(t, fiber.MethodDelete, "/api/messages/"+msg.ID, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, env = srv.authed(t, fiber.MethodGet, "/api/tickets/"+ticket.ID+"/messages", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, decode[[]map[string]any](t, env))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.authed(t, fiber.MethodPost, "/api/tickets", map[string]any{"title": "Counted"})

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "helpdesk_ticket_events_total")
}
