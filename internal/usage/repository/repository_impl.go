package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCurrentPeriod(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*domain.UsageTracking, error) {
	var item domain.UsageTracking
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, period_start, period_end, audits_used, audits_limit, created_at, updated_at
		 FROM usage_tracking
		 WHERE user_id = ? AND period_end >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID,
		now,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertPeriod(ctx context.Context, db *gorm.DB, period *domain.UsageTracking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_tracking (
			id, user_id, period_start, period_end, audits_used, audits_limit, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		period.ID,
		period.UserID,
		period.PeriodStart,
		period.PeriodEnd,
		period.AuditsUsed,
		period.AuditsLimit,
		period.CreatedAt,
		period.UpdatedAt,
	).Error
}

func (r *repo) IncrementPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_tracking
		 SET audits_used = audits_used + 1,
		     updated_at = ?
		 WHERE id = ? AND audits_used < audits_limit`,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SumRemainingCredits(ctx context.Context, db *gorm.DB, userID string) (int, error) {
	var total int
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(audits_remaining), 0)
		 FROM one_time_purchases
		 WHERE user_id = ? AND audits_remaining > 0`,
		userID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) OldestPurchaseWithCredits(ctx context.Context, db *gorm.DB, userID string) (*domain.OneTimePurchase, error) {
	var item domain.OneTimePurchase
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, ls_order_id, audits_purchased, audits_remaining, created_at
		 FROM one_time_purchases
		 WHERE user_id = ? AND audits_remaining > 0
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) DecrementPurchase(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE one_time_purchases
		 SET audits_remaining = audits_remaining - 1
		 WHERE id = ? AND audits_remaining > 0`,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPurchase(ctx context.Context, db *gorm.DB, purchase *domain.OneTimePurchase) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO one_time_purchases (
			id, user_id, ls_order_id, audits_purchased, audits_remaining, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		purchase.ID,
		purchase.UserID,
		purchase.LSOrderID,
		purchase.AuditsPurchased,
		purchase.AuditsRemaining,
		purchase.CreatedAt,
	).Error
}
