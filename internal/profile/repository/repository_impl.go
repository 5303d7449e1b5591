package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/viotraix/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	var item domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, full_name, plan, subscription_status,
			current_period_start, current_period_end,
			ls_customer_id, ls_subscription_id, created_at, updated_at
		 FROM profiles
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, profile *domain.Profile) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO profiles (
			id, email, full_name, plan, subscription_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		profile.ID,
		profile.Email,
		profile.FullName,
		profile.Plan,
		profile.SubscriptionStatus,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ApplySubscription(ctx context.Context, db *gorm.DB, id string, update domain.SubscriptionUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE profiles
		 SET plan = ?,
		     subscription_status = ?,
		     current_period_start = ?,
		     current_period_end = ?,
		     ls_customer_id = COALESCE(?, ls_customer_id),
		     ls_subscription_id = COALESCE(?, ls_subscription_id),
		     updated_at = ?
		 WHERE id = ?`,
		update.Plan,
		update.Status,
		update.PeriodStart,
		update.PeriodEnd,
		update.LSCustomerID,
		update.LSSubscriptionID,
		update.UpdatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id string, status domain.SubscriptionStatus, plan *domain.Plan, updatedAt time.Time) (bool, error) {
	var planArg any
	if plan != nil {
		planArg = string(*plan)
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE profiles
		 SET subscription_status = ?,
		     plan = COALESCE(?, plan),
		     updated_at = ?
		 WHERE id = ?`,
		string(status),
		planArg,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListRenewingBetween returns active subscribers whose period ends in [from, to].
func (r *repo) ListRenewingBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Profile, error) {
	var items []domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, full_name, plan, subscription_status,
			current_period_start, current_period_end,
			ls_customer_id, ls_subscription_id, created_at, updated_at
		 FROM profiles
		 WHERE subscription_status = ?
		   AND plan IN (?, ?)
		   AND current_period_end >= ?
		   AND current_period_end <= ?
		 ORDER BY current_period_end ASC, id ASC`,
		domain.StatusActive,
		domain.PlanBasic,
		domain.PlanPro,
		from,
		to,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
