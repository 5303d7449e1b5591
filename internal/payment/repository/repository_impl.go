package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, event_name, user_id, payload, processing_error, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.EventName,
		event.UserID,
		event.Payload,
		event.ProcessingError,
		event.ReceivedAt,
		event.ProcessedAt,
	).Error
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time, processingError *string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, processing_error = ?
		 WHERE id = ?`,
		processedAt,
		processingError,
		id,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, limit int) ([]domain.WebhookEvent, error) {
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, event_name, user_id, payload, processing_error, received_at, processed_at
		 FROM webhook_events
		 ORDER BY received_at DESC, id DESC
		 LIMIT ?`,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
