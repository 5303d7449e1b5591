package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Windows are the days-before-renewal at which reminders go out.
var Windows = []int{5, 1}

// DedupeWindow suppresses a second reminder of the same type to the same
// address.
const DedupeWindow = 24 * time.Hour

type Notification struct {
	ID       int64     `json:"id,string" gorm:"primaryKey"`
	Email    string    `json:"email" gorm:"type:text;not null"`
	Subject  string    `json:"subject" gorm:"type:text;not null"`
	HTMLBody string    `json:"html_body" gorm:"column:html_body;type:text;not null"`
	Type     string    `json:"type" gorm:"type:text;not null"`
	SentAt   time.Time `json:"sent_at"`
}

func (Notification) TableName() string { return "email_notifications" }

// NotificationType is the log type for a reminder N days before renewal.
func NotificationType(days int) string {
	return fmt.Sprintf("renewal_reminder_%dd", days)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
	// NotifiedSince returns the subset of emails that already received a
	// notification of the given type at or after since.
	NotifiedSince(ctx context.Context, db *gorm.DB, emails []string, notificationType string, since time.Time) (map[string]struct{}, error)
}

type Result struct {
	Success       bool      `json:"success"`
	RemindersSent int       `json:"remindersSent"`
	Timestamp     time.Time `json:"timestamp"`
}

type Service interface {
	// Run sends every reminder due now. It is safe to call more than once
	// a day.
	Run(ctx context.Context) (Result, error)
}

var ErrSweepFailed = errors.New("reminder_sweep_failed")
