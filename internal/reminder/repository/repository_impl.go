package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/viotraix/internal/reminder/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO email_notifications (id, email, subject, html_body, type, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.Email,
		n.Subject,
		n.HTMLBody,
		n.Type,
		n.SentAt,
	).Error
}

func (r *repo) NotifiedSince(ctx context.Context, db *gorm.DB, emails []string, notificationType string, since time.Time) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(emails) == 0 {
		return out, nil
	}

	var found []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT email FROM email_notifications
		 WHERE email IN ? AND type = ? AND sent_at >= ?`,
		emails,
		notificationType,
		since,
	).Scan(&found).Error
	if err != nil {
		return nil, err
	}
	for _, email := range found {
		out[email] = struct{}{}
	}
	return out, nil
}
