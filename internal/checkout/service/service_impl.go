package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/viotraix/internal/checkout/domain"
	"github.com/smallbiznis/viotraix/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Plans *config.PlanCatalogHolder
}

type Service struct {
	log         *zap.Logger
	plans       *config.PlanCatalogHolder
	storeID     string
	redirectURL string
	client      *lemonSqueezyClient
}

func New(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("checkout.service"),
		plans:       p.Plans,
		storeID:     strings.TrimSpace(p.Cfg.LemonSqueezy.StoreID),
		redirectURL: strings.TrimRight(p.Cfg.AppURL, "/") + "/dashboard",
		client:      newLemonSqueezyClient(p.Cfg.LemonSqueezy.APIKey, p.Cfg.LemonSqueezy.APIBaseURL),
	}
}

func (s *Service) Create(ctx context.Context, req domain.Request) (domain.Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return domain.Result{}, domain.ErrInvalidUser
	}
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))

	catalog := s.plans.Get()
	if !catalog.HasTier(req.Tier) {
		return domain.Result{}, domain.ErrInvalidTier
	}
	variantID := strings.TrimSpace(catalog.VariantID(req.Tier))
	if variantID == "" || s.storeID == "" || s.client.apiKey == "" {
		s.log.Error("checkout configuration incomplete", zap.String("tier", req.Tier))
		return domain.Result{}, domain.ErrNotConfigured
	}

	url, err := s.client.createCheckout(ctx, s.storeID, variantID, s.redirectURL, req)
	if err != nil {
		s.log.Error("checkout creation failed", zap.String("tier", req.Tier), zap.String("user_id", req.UserID), zap.Error(err))
		return domain.Result{}, domain.ErrCheckoutFailed
	}

	s.log.Info("checkout created", zap.String("tier", req.Tier), zap.String("user_id", req.UserID))
	return domain.Result{CheckoutURL: url}, nil
}
