package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	"github.com/smallbiznis/viotraix/internal/ratelimit"
	"github.com/smallbiznis/viotraix/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const provisionLockTTL = 10 * time.Second

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	ProfileRepo profiledomain.Repository
	Plans       *config.PlanCatalogHolder
	Locker      *ratelimit.Locker `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	profileRepo profiledomain.Repository
	plans       *config.PlanCatalogHolder
	locker      locker
}

func New(p Params) domain.Service {
	s := &Service{
		db:          p.DB,
		log:         p.Log.Named("usage.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		profileRepo: p.ProfileRepo,
		plans:       p.Plans,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s
}

func (s *Service) Resolve(ctx context.Context, userID string) (domain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Entitlement{}, domain.ErrInvalidUser
	}

	profile, err := s.profileRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return domain.Entitlement{}, err
	}
	if profile == nil {
		return noPlan(), nil
	}

	now := s.clock.Now()
	plan := profile.Plan
	if !plan.Valid() {
		plan = profiledomain.PlanNone
	}

	// A lapsed period blocks access regardless of status; the webhook that
	// flips status may arrive late or never.
	if plan.IsSubscription() && profile.CurrentPeriodEnd != nil && profile.CurrentPeriodEnd.Before(now) {
		return expired(profile.CurrentPeriodEnd), nil
	}

	switch profile.SubscriptionStatus {
	case profiledomain.StatusExpired, profiledomain.StatusPastDue:
		return expired(profile.CurrentPeriodEnd), nil
	case profiledomain.StatusActive, profiledomain.StatusCancelled:
		if plan.IsSubscription() {
			return s.resolveSubscription(ctx, profile, plan, now)
		}
	}

	credits, err := s.repo.SumRemainingCredits(ctx, s.db, userID)
	if err != nil {
		return domain.Entitlement{}, err
	}
	if credits > 0 {
		return domain.Entitlement{
			CanAudit:    true,
			AuditsLimit: credits,
			Plan:        profiledomain.PlanSingle,
		}, nil
	}

	return noPlan(), nil
}

func (s *Service) resolveSubscription(ctx context.Context, profile *profiledomain.Profile, plan profiledomain.Plan, now time.Time) (domain.Entitlement, error) {
	period, err := s.repo.FindCurrentPeriod(ctx, s.db, profile.ID, now)
	if err != nil {
		return domain.Entitlement{}, err
	}
	if period != nil {
		return domain.Entitlement{
			CanAudit:    period.AuditsUsed < period.AuditsLimit,
			AuditsUsed:  period.AuditsUsed,
			AuditsLimit: period.AuditsLimit,
			Plan:        plan,
			ExpiredAt:   profile.CurrentPeriodEnd,
		}, nil
	}

	catalog := s.plans.Get()
	start := now
	if profile.CurrentPeriodStart != nil {
		start = profile.CurrentPeriodStart.UTC()
	}
	end := now.AddDate(0, 0, catalog.DefaultPeriodDays)
	if profile.CurrentPeriodEnd != nil {
		end = profile.CurrentPeriodEnd.UTC()
	}

	provisioned, err := s.provisionPeriod(ctx, profile.ID, start, end, catalog.Limit(string(plan)), now)
	if err != nil {
		return domain.Entitlement{}, err
	}

	return domain.Entitlement{
		CanAudit:    provisioned.AuditsUsed < provisioned.AuditsLimit,
		AuditsUsed:  provisioned.AuditsUsed,
		AuditsLimit: provisioned.AuditsLimit,
		Plan:        plan,
		ExpiredAt:   &provisioned.PeriodEnd,
	}, nil
}

// provisionPeriod lazily opens the first period for a subscriber. Concurrent
// callers converge on one row: a redis lock across instances, then a re-read
// inside the transaction.
func (s *Service) provisionPeriod(ctx context.Context, userID string, start, end time.Time, limit int, now time.Time) (*domain.UsageTracking, error) {
	candidate := &domain.UsageTracking{
		UserID:      userID,
		PeriodStart: start,
		PeriodEnd:   end,
		AuditsUsed:  0,
		AuditsLimit: limit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if s.locker != nil {
		key := "usage:provision:" + userID
		token, ok, err := s.locker.TryLock(ctx, key, provisionLockTTL)
		if err != nil {
			s.log.Warn("provision lock unavailable, continuing without it", zap.String("user_id", userID), zap.Error(err))
		} else if !ok {
			// Another instance is inserting the same row.
			return candidate, nil
		} else {
			defer func() {
				_ = s.locker.Release(context.Background(), key, token)
			}()
		}
	}

	var result *domain.UsageTracking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindCurrentPeriod(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}
		candidate.ID = s.genID.Generate()
		if err := s.repo.InsertPeriod(ctx, tx, candidate); err != nil {
			return err
		}
		result = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result == candidate {
		s.log.Info("usage period provisioned",
			zap.String("user_id", userID),
			zap.Int("audits_limit", limit),
			zap.Time("period_end", end),
		)
	}
	return result, nil
}

// Consume charges the current subscription period first, then the oldest
// purchase with credits. Each step is a conditional update so concurrent
// consumers can never push a counter past its bound.
func (s *Service) Consume(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidUser
	}
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		period, err := s.repo.FindCurrentPeriod(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if period != nil {
			ok, err := s.repo.IncrementPeriod(ctx, tx, period.ID, now)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}

		// A small bounded loop: a concurrent consumer can drain the purchase
		// between select and update.
		for attempt := 0; attempt < 3; attempt++ {
			purchase, err := s.repo.OldestPurchaseWithCredits(ctx, tx, userID)
			if err != nil {
				return err
			}
			if purchase == nil {
				return domain.ErrQuotaExhausted
			}
			ok, err := s.repo.DecrementPurchase(ctx, tx, purchase.ID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		return domain.ErrQuotaExhausted
	})
}

func noPlan() domain.Entitlement {
	return domain.Entitlement{Plan: profiledomain.PlanNone}
}

func expired(at *time.Time) domain.Entitlement {
	return domain.Entitlement{
		Plan:      profiledomain.PlanExpired,
		Expired:   true,
		ExpiredAt: at,
	}
}

// IsQuotaExhausted reports whether err means no quota row could be charged.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, domain.ErrQuotaExhausted)
}
