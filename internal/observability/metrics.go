package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/helpdesk/internal/events"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	webhookCalls    *prometheus.CounterVec
	ticketEvents    *prometheus.CounterVec
	sweepPromoted   prometheus.Counter
	sweepRuns       *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helpdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "http_errors_total",
			Help:      "Error responses by route and error code.",
		}, []string{"route", "method", "code"}),
		webhookCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "webhook_calls_total",
			Help:      "Inbound webhook calls by outcome.",
		}, []string{"status", "reason"}),
		ticketEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "ticket_events_total",
			Help:      "Ticket domain events by type.",
		}, []string{"type"}),
		sweepPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "scheduler_promoted_total",
			Help:      "Scheduled tickets promoted by the sweep.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "scheduler_runs_total",
			Help:      "Sweep runs by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors,
		m.webhookCalls, m.ticketEvents, m.sweepPromoted, m.sweepRuns,
	)
	return m
}

// Registry exposes the registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordSweep counts one sweep run and the tickets it promoted.
func (m *Metrics) RecordSweep(promoted int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepPromoted.Add(float64(promoted))
}

// RecordSweepSkipped counts a tick where another instance held the lock.
func (m *Metrics) RecordSweepSkipped() {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues("skipped").Inc()
}

// Subscribe feeds ticket and webhook events into the counters.
func (m *Metrics) Subscribe(dispatcher events.Dispatcher) {
	if m == nil || dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventWebhookReceived, func(_ context.Context, event events.Event) error {
		payload, ok := event.Payload.(events.WebhookReceivedPayload)
		if !ok {
			return nil
		}
		reason := ""
		if payload.Reason != nil {
			reason = string(*payload.Reason)
		}
		m.webhookCalls.WithLabelValues(string(payload.Status), reason).Inc()
		return nil
	})
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketPriorityChanged,
		events.EventTicketAssigned,
		events.EventTicketScheduled,
		events.EventTicketUnscheduled,
		events.EventTicketPaused,
		events.EventTicketResumed,
		events.EventTicketMessageAdded,
	} {
		dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			m.ticketEvents.WithLabelValues(string(event.Type)).Inc()
			return nil
		})
	}
}
