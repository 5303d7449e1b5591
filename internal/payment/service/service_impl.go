package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	usagedomain "github.com/smallbiznis/viotraix/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Plans       *config.PlanCatalogHolder
	ProfileRepo profiledomain.Repository
	UsageRepo   usagedomain.Repository
}

// Service applies verified billing events to profiles, usage periods and
// purchases.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	plans       *config.PlanCatalogHolder
	profileRepo profiledomain.Repository
	usageRepo   usagedomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		plans:       p.Plans,
		profileRepo: p.ProfileRepo,
		usageRepo:   p.UsageRepo,
	}
}

// ProcessEvent runs every mutation of one event in a single transaction.
// It reports whether the event name is one this service acts on.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.BillingEvent) (bool, error) {
	if event == nil || strings.TrimSpace(event.UserID) == "" {
		return false, paymentdomain.ErrMissingUser
	}
	if !handled(event.EventName) {
		return false, nil
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureProfile(ctx, tx, event, now); err != nil {
			return err
		}

		switch event.EventName {
		case paymentdomain.EventSubscriptionCreated:
			return s.subscriptionCreated(ctx, tx, event, now)
		case paymentdomain.EventSubscriptionPaymentSuccess, paymentdomain.EventSubscriptionResumed:
			return s.subscriptionRenewed(ctx, tx, event, now)
		case paymentdomain.EventSubscriptionCancelled:
			_, err := s.profileRepo.UpdateStatus(ctx, tx, event.UserID, profiledomain.StatusCancelled, nil, now)
			return err
		case paymentdomain.EventSubscriptionExpired:
			none := profiledomain.PlanNone
			_, err := s.profileRepo.UpdateStatus(ctx, tx, event.UserID, profiledomain.StatusExpired, &none, now)
			return err
		case paymentdomain.EventSubscriptionPaymentFailed:
			_, err := s.profileRepo.UpdateStatus(ctx, tx, event.UserID, profiledomain.StatusPastDue, nil, now)
			return err
		case paymentdomain.EventOrderCreated:
			return s.orderCreated(ctx, tx, event, now)
		}
		return nil
	})
	if err != nil {
		return true, err
	}

	s.log.Info("billing event applied",
		zap.String("provider", event.Provider),
		zap.String("event_name", event.EventName),
		zap.String("user_id", event.UserID),
	)
	return true, nil
}

func handled(eventName string) bool {
	switch eventName {
	case paymentdomain.EventSubscriptionCreated,
		paymentdomain.EventSubscriptionPaymentSuccess,
		paymentdomain.EventSubscriptionResumed,
		paymentdomain.EventSubscriptionCancelled,
		paymentdomain.EventSubscriptionExpired,
		paymentdomain.EventSubscriptionPaymentFailed,
		paymentdomain.EventOrderCreated:
		return true
	default:
		return false
	}
}

// ensureProfile creates the profile when the webhook beats the user's first
// authenticated request.
func (s *Service) ensureProfile(ctx context.Context, tx *gorm.DB, event *paymentdomain.BillingEvent, now time.Time) error {
	_, err := s.profileRepo.Insert(ctx, tx, &profiledomain.Profile{
		ID:                 event.UserID,
		Email:              strings.ToLower(event.UserEmail),
		Plan:               profiledomain.PlanNone,
		SubscriptionStatus: profiledomain.StatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	return err
}

func (s *Service) subscriptionCreated(ctx context.Context, tx *gorm.DB, event *paymentdomain.BillingEvent, now time.Time) error {
	catalog := s.plans.Get()

	plan := profiledomain.Plan(event.Tier)
	if !plan.IsSubscription() {
		plan = profiledomain.PlanBasic
		if catalog.IsProVariant(event.VariantID) {
			plan = profiledomain.PlanPro
		}
	}

	start := valueOr(event.CreatedAt, now)
	update := profiledomain.SubscriptionUpdate{
		Plan:             plan,
		Status:           profiledomain.StatusActive,
		PeriodStart:      start,
		PeriodEnd:        event.RenewsAt,
		LSCustomerID:     nonEmpty(event.CustomerID),
		LSSubscriptionID: nonEmpty(event.ObjectID),
		UpdatedAt:        now,
	}
	if _, err := s.profileRepo.ApplySubscription(ctx, tx, event.UserID, update); err != nil {
		return err
	}
	return s.openPeriod(ctx, tx, event.UserID, start, event.RenewsAt, catalog.Limit(string(plan)), now)
}

func (s *Service) subscriptionRenewed(ctx context.Context, tx *gorm.DB, event *paymentdomain.BillingEvent, now time.Time) error {
	profile, err := s.profileRepo.FindByID(ctx, tx, event.UserID)
	if err != nil {
		return err
	}
	stored := profiledomain.PlanBasic
	if profile != nil && profile.Plan != "" {
		stored = profile.Plan
	}

	// The period limit follows the stored plan; a lapsed plan resumes as basic.
	plan := stored
	if stored == profiledomain.PlanNone || stored == profiledomain.PlanExpired {
		plan = profiledomain.PlanBasic
	}

	catalog := s.plans.Get()
	start := valueOr(event.CreatedAt, now)
	update := profiledomain.SubscriptionUpdate{
		Plan:        plan,
		Status:      profiledomain.StatusActive,
		PeriodStart: start,
		PeriodEnd:   event.RenewsAt,
		UpdatedAt:   now,
	}
	if _, err := s.profileRepo.ApplySubscription(ctx, tx, event.UserID, update); err != nil {
		return err
	}
	// Every renewal delivery opens a fresh period row, redeliveries included.
	return s.openPeriod(ctx, tx, event.UserID, start, event.RenewsAt, catalog.Limit(string(stored)), now)
}

func (s *Service) openPeriod(ctx context.Context, tx *gorm.DB, userID string, start time.Time, end *time.Time, limit int, now time.Time) error {
	periodEnd := start.AddDate(0, 0, s.plans.Get().DefaultPeriodDays)
	if end != nil {
		periodEnd = *end
	}
	return s.usageRepo.InsertPeriod(ctx, tx, &usagedomain.UsageTracking{
		ID:          s.genID.Generate(),
		UserID:      userID,
		PeriodStart: start,
		PeriodEnd:   periodEnd,
		AuditsUsed:  0,
		AuditsLimit: limit,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Service) orderCreated(ctx context.Context, tx *gorm.DB, event *paymentdomain.BillingEvent, now time.Time) error {
	credits := s.plans.Get().Plans[config.TierSingle].Credits
	if credits <= 0 {
		credits = 1
	}
	return s.usageRepo.InsertPurchase(ctx, tx, &usagedomain.OneTimePurchase{
		ID:              s.genID.Generate(),
		UserID:          event.UserID,
		LSOrderID:       event.ObjectID,
		AuditsPurchased: credits,
		AuditsRemaining: credits,
		CreatedAt:       now,
	})
}

func valueOr(t *time.Time, def time.Time) time.Time {
	if t == nil {
		return def
	}
	return t.UTC()
}

func nonEmpty(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
