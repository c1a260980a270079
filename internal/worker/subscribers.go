package worker

import (
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/service"
)

// StartEventSubscribers attaches the in-process event consumers: the
// activity log and the Prometheus counters.
func StartEventSubscribers(dispatcher events.Dispatcher, notifications *service.NotificationService, metrics *observability.Metrics) {
	if notifications != nil {
		notifications.RegisterHandlers()
	}
	metrics.Subscribe(dispatcher)
}
