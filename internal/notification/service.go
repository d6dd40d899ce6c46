package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/repository"
)

type Event struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]any
}

// Service persists notification events and fans them out to the
// registered notifiers. The sync engine and the job orchestrator call
// the Notify* helpers; the worker's notify flags gate those calls at
// the call site.
type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifySyncSucceeded(ctx context.Context, def models.WorkerDefinition, result models.RunResult) error
	NotifySyncFailed(ctx context.Context, def models.WorkerDefinition, reason string) error
	NotifyMigrationFinished(ctx context.Context, job models.MigrationJob) error
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}

	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}

	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			s.logger.Warn().
				Err(err).
				Str("notification_id", notif.ID).
				Str("event_type", string(notif.EventType)).
				Str("channel", channelName(notifier)).
				Msg("failed to deliver notification")
		}
	}
	return notif, nil
}

func (s *service) NotifySyncSucceeded(ctx context.Context, def models.WorkerDefinition, result models.RunResult) error {
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventSyncSucceeded,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Sync succeeded: %s", def.TargetRef()),
		Message: fmt.Sprintf("Worker %d caught up %s from %s, %d new rows.",
			def.ID, def.TargetRef(), def.SourceRef(), result.InsertedCount),
		Metadata: map[string]any{
			"worker_id":      def.ID,
			"inserted_count": result.InsertedCount,
			"max_pk_target":  result.MaxPKTarget,
		},
	})
	return err
}

func (s *service) NotifySyncFailed(ctx context.Context, def models.WorkerDefinition, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventSyncFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Sync failed: %s", def.TargetRef()),
		Message:  fmt.Sprintf("Worker %d failed syncing %s: %s", def.ID, def.TargetRef(), reason),
		Metadata: map[string]any{
			"worker_id": def.ID,
			"reason":    reason,
		},
	})
	return err
}

func (s *service) NotifyMigrationFinished(ctx context.Context, job models.MigrationJob) error {
	evt := Event{
		Event:    models.NotificationEventMigrationSucceeded,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Migration finished: %s", job.TargetRef()),
		Message: fmt.Sprintf("Job %s cloned %s into %s, %d rows in %d batches.",
			job.ID, job.SourceRef(), job.TargetRef(), job.RowsInserted, job.Batches),
		Metadata: map[string]any{
			"job_id":        job.ID,
			"rows_inserted": job.RowsInserted,
			"batches":       job.Batches,
		},
	}
	if job.Status == models.JobStatusError {
		reason := "unknown error"
		if job.ErrorMessage != nil {
			reason = *job.ErrorMessage
		}
		evt.Event = models.NotificationEventMigrationFailed
		evt.Severity = models.NotificationSeverityError
		evt.Title = fmt.Sprintf("Migration failed: %s", job.TargetRef())
		evt.Message = fmt.Sprintf("Job %s failed cloning %s into %s: %s",
			job.ID, job.SourceRef(), job.TargetRef(), reason)
		evt.Metadata["reason"] = reason
	}
	_, err := s.Publish(ctx, evt)
	return err
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func channelName(n Notifier) string {
	type named interface{ String() string }
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
