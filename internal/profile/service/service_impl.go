package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("profile.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Ensure(ctx context.Context, id, email string) (*domain.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidUser
	}

	existing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	profile := &domain.Profile{
		ID:                 id,
		Email:              strings.ToLower(strings.TrimSpace(email)),
		Plan:               domain.PlanNone,
		SubscriptionStatus: domain.StatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	created, err := s.repo.Insert(ctx, s.db, profile)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("profile created", zap.String("user_id", id))
		return profile, nil
	}

	// Lost a race with a concurrent first request.
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Profile, error) {
	profile, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}
