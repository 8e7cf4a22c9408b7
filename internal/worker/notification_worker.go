package worker

import (
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/service"
)

// StartNotificationWorker registers notification handlers and the optional NATS mirror.
func StartNotificationWorker(notificationService *service.NotificationService, mirror *events.NATSMirror, dispatcher events.Dispatcher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if dispatcher != nil {
		mirror.Register(dispatcher)
	}
}
