package mock

import (
	"context"
	"sync"

	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/notification"
)

// Notifications is a notification.Service that records every event
// instead of persisting or delivering it.
type Notifications struct {
	mu     sync.Mutex
	events []notification.Event
}

func NewNotifications() *Notifications {
	return &Notifications{}
}

// Events returns a copy of the recorded events.
func (n *Notifications) Events() []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Event, len(n.events))
	copy(out, n.events)
	return out
}

func (n *Notifications) Publish(ctx context.Context, evt notification.Event) (models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return models.Notification{
		ID:        "mock",
		EventType: evt.Event,
		Severity:  evt.Severity,
		Title:     evt.Title,
		Message:   evt.Message,
	}, nil
}

func (n *Notifications) NotifySyncSucceeded(ctx context.Context, def models.WorkerDefinition, result models.RunResult) error {
	_, err := n.Publish(ctx, notification.Event{
		Event:    models.NotificationEventSyncSucceeded,
		Severity: models.NotificationSeverityInfo,
	})
	return err
}

func (n *Notifications) NotifySyncFailed(ctx context.Context, def models.WorkerDefinition, reason string) error {
	_, err := n.Publish(ctx, notification.Event{
		Event:    models.NotificationEventSyncFailed,
		Severity: models.NotificationSeverityError,
		Message:  reason,
	})
	return err
}

func (n *Notifications) NotifyMigrationFinished(ctx context.Context, job models.MigrationJob) error {
	evt := notification.Event{
		Event:    models.NotificationEventMigrationSucceeded,
		Severity: models.NotificationSeverityInfo,
	}
	if job.Status == models.JobStatusError {
		evt.Event = models.NotificationEventMigrationFailed
		evt.Severity = models.NotificationSeverityError
	}
	_, err := n.Publish(context.Background(), evt)
	return err
}

func (n *Notifications) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (n *Notifications) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return models.Notification{ID: notificationID}, nil
}
