// Package domain defines billing webhooks: the canonical event parsed by a
// provider adapter and the delivery log kept for every verified request.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEvent is one verified delivery.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	EventName       string         `json:"event_name" gorm:"type:text;not null"`
	UserID          *string        `json:"user_id" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ProcessingError *string        `json:"processing_error" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

const ProviderLemonSqueezy = "lemonsqueezy"

const (
	EventSubscriptionCreated        = "subscription_created"
	EventSubscriptionPaymentSuccess = "subscription_payment_success"
	EventSubscriptionResumed        = "subscription_resumed"
	EventSubscriptionCancelled      = "subscription_cancelled"
	EventSubscriptionExpired        = "subscription_expired"
	EventSubscriptionPaymentFailed  = "subscription_payment_failed"
	EventOrderCreated               = "order_created"
)

// BillingEvent is the provider-neutral form of a webhook payload. Tier is
// the tier requested at checkout, when the provider echoes it back.
type BillingEvent struct {
	Provider   string
	EventName  string
	UserID     string
	Tier       string
	UserEmail  string
	ObjectID   string
	VariantID  string
	CustomerID string
	CreatedAt  *time.Time
	RenewsAt   *time.Time
	RawPayload []byte
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type PaymentAdapter interface {
	// Verify authenticates the raw request body before anything is parsed.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*BillingEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time, processingError *string) error
	ListEvents(ctx context.Context, db *gorm.DB, limit int) ([]WebhookEvent, error)
}

type IngestResult struct {
	EventName string
	Ignored   bool
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (IngestResult, error)
	ListEvents(ctx context.Context, limit int) ([]WebhookEvent, error)
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrMissingUser      = errors.New("missing_user_id")
)
