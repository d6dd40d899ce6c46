package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/merchkit/syncbridge/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type CreateNotificationParams struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]any
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO sync.notifications (event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, event_type, severity, title, message, metadata, created_at, read_at`

	var metadata any
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "marshal metadata")
		}
		metadata = bytes
	}

	row := r.db.QueryRowContext(ctx, query, params.Event, params.Severity, params.Title, params.Message, metadata)
	return scanNotification(row)
}

func (r *notificationRepository) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	const query = `
		SELECT id, event_type, severity, title, message, metadata, created_at, read_at
		FROM sync.notifications
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	const query = `
		UPDATE sync.notifications
		SET read_at = NOW()
		WHERE id = $1
		RETURNING id, event_type, severity, title, message, metadata, created_at, read_at`
	return scanNotification(r.db.QueryRowContext(ctx, query, notificationID))
}

func scanNotification(scanner interface{ Scan(dest ...any) error }) (models.Notification, error) {
	var (
		notif       models.Notification
		metadataRaw []byte
		readAt      sql.NullTime
	)
	if err := scanner.Scan(
		&notif.ID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadataRaw,
		&notif.CreatedAt,
		&readAt,
	); err != nil {
		return models.Notification{}, err
	}
	if len(metadataRaw) > 0 {
		notif.Metadata = metadataRaw
	}
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}
	return notif, nil
}
