package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/models"
)

// Notifier delivers a persisted notification to an external channel.
// Delivery failures are logged by the service and never fail the run
// that produced the event.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// LogNotifier writes notifications to the structured log. It stands in
// for external channels (mail, chat webhooks) that the admin tooling
// owns.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "log_notifier").Logger()}
}

func (n *LogNotifier) String() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, notif models.Notification) error {
	event := n.logger.Info()
	if notif.Severity == models.NotificationSeverityError {
		event = n.logger.Error()
	}
	event.
		Str("event_type", string(notif.EventType)).
		Str("title", notif.Title).
		Msg(notif.Message)
	return nil
}
