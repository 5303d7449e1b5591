// Package domain holds metered audit quota: subscription periods and
// one-time purchase credits.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	"gorm.io/gorm"
)

// UsageTracking is one subscription billing period and its counter.
type UsageTracking struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID      string       `json:"user_id" gorm:"type:text;not null;index"`
	PeriodStart time.Time    `json:"period_start" gorm:"not null"`
	PeriodEnd   time.Time    `json:"period_end" gorm:"not null"`
	AuditsUsed  int          `json:"audits_used" gorm:"not null"`
	AuditsLimit int          `json:"audits_limit" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (UsageTracking) TableName() string { return "usage_tracking" }

// OneTimePurchase carries prepaid audit credits, consumed oldest first.
type OneTimePurchase struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID          string       `json:"user_id" gorm:"type:text;not null;index"`
	LSOrderID       string       `json:"ls_order_id" gorm:"column:ls_order_id;type:text;not null"`
	AuditsPurchased int          `json:"audits_purchased" gorm:"not null"`
	AuditsRemaining int          `json:"audits_remaining" gorm:"not null"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (OneTimePurchase) TableName() string { return "one_time_purchases" }

// Entitlement is the resolved answer to "may this user run another audit".
type Entitlement struct {
	CanAudit    bool               `json:"canAudit"`
	AuditsUsed  int                `json:"auditsUsed"`
	AuditsLimit int                `json:"auditsLimit"`
	Plan        profiledomain.Plan `json:"plan"`
	Expired     bool               `json:"expired"`
	ExpiredAt   *time.Time         `json:"expiredAt"`
}

type Repository interface {
	// FindCurrentPeriod returns the newest period row whose end is not before now.
	FindCurrentPeriod(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*UsageTracking, error)
	InsertPeriod(ctx context.Context, db *gorm.DB, period *UsageTracking) error
	// IncrementPeriod consumes one audit only while the counter is below its limit.
	IncrementPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	SumRemainingCredits(ctx context.Context, db *gorm.DB, userID string) (int, error)
	OldestPurchaseWithCredits(ctx context.Context, db *gorm.DB, userID string) (*OneTimePurchase, error)
	// DecrementPurchase consumes one credit only while credits remain.
	DecrementPurchase(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	InsertPurchase(ctx context.Context, db *gorm.DB, purchase *OneTimePurchase) error
}

type Service interface {
	Resolve(ctx context.Context, userID string) (Entitlement, error)
	// Consume records one completed audit against the user's quota.
	Consume(ctx context.Context, userID string) error
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrQuotaExhausted = errors.New("quota_exhausted")
)
