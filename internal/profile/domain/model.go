package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Plan string

const (
	PlanNone    Plan = "none"
	PlanSingle  Plan = "single"
	PlanBasic   Plan = "basic"
	PlanPro     Plan = "pro"
	PlanExpired Plan = "expired"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanNone, PlanSingle, PlanBasic, PlanPro, PlanExpired:
		return true
	default:
		return false
	}
}

// IsSubscription reports whether the plan is a metered recurring tier.
func (p Plan) IsSubscription() bool {
	return p == PlanBasic || p == PlanPro
}

type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "none"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusCancelled, StatusPastDue, StatusExpired:
		return true
	default:
		return false
	}
}

// Profile is the per-user billing record. Plan and period fields are only
// written by billing webhooks.
type Profile struct {
	ID                 string             `json:"id" gorm:"primaryKey;type:text"`
	Email              string             `json:"email" gorm:"type:text;not null"`
	FullName           *string            `json:"full_name" gorm:"type:text"`
	Plan               Plan               `json:"plan" gorm:"type:text;not null"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"type:text;not null"`
	CurrentPeriodStart *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	LSCustomerID       *string            `json:"ls_customer_id" gorm:"column:ls_customer_id;type:text"`
	LSSubscriptionID   *string            `json:"ls_subscription_id" gorm:"column:ls_subscription_id;type:text"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// SubscriptionUpdate is applied when a subscription starts or renews. Nil
// identifiers leave the stored value untouched.
type SubscriptionUpdate struct {
	Plan             Plan
	Status           SubscriptionStatus
	PeriodStart      time.Time
	PeriodEnd        *time.Time
	LSCustomerID     *string
	LSSubscriptionID *string
	UpdatedAt        time.Time
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Profile, error)
	// Insert creates the profile if it does not exist yet.
	Insert(ctx context.Context, db *gorm.DB, profile *Profile) (bool, error)
	ApplySubscription(ctx context.Context, db *gorm.DB, id string, update SubscriptionUpdate) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id string, status SubscriptionStatus, plan *Plan, updatedAt time.Time) (bool, error)
	ListRenewingBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Profile, error)
}

type Service interface {
	// Ensure returns the profile for an authenticated user, creating it on
	// first sight.
	Ensure(ctx context.Context, id, email string) (*Profile, error)
	Get(ctx context.Context, id string) (*Profile, error)
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrNotFound     = errors.New("profile_not_found")
)
