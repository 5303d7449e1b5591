package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability/metrics"
	"github.com/smallbiznis/viotraix/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
	paymentservice "github.com/smallbiznis/viotraix/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultEventListLimit = 50
	maxEventListLimit     = 200
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	metrics    *metrics.Metrics
	configs    map[string]map[string]any
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		metrics:    p.Metrics,
		configs: map[string]map[string]any{
			paymentdomain.ProviderLemonSqueezy: {"webhook_secret": p.Cfg.LemonSqueezy.WebhookSecret},
		},
	}
}

// IngestWebhook verifies the raw body before any business field is read,
// records the delivery, then applies it.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.IngestResult{}, paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   s.configs[provider],
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidConfig) {
			// Without a secret no signature can be valid.
			s.log.Error("webhook secret not configured", zap.String("provider", provider))
			s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "rejected")
			return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidSignature
		}
		return paymentdomain.IngestResult{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "rejected")
		return paymentdomain.IngestResult{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid")
		return paymentdomain.IngestResult{}, err
	}

	now := s.clock.Now()
	userID := event.UserID
	record := &paymentdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		Provider:   provider,
		EventName:  event.EventName,
		UserID:     &userID,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: now,
	}
	if err := s.repo.InsertEvent(ctx, s.db, record); err != nil {
		return paymentdomain.IngestResult{}, err
	}

	handled, applyErr := s.paymentSvc.ProcessEvent(ctx, event)

	var processingError *string
	outcome := "processed"
	switch {
	case applyErr != nil:
		msg := applyErr.Error()
		processingError = &msg
		outcome = "failed"
	case !handled:
		outcome = "ignored"
	}
	if err := s.repo.MarkProcessed(context.WithoutCancel(ctx), s.db, record.ID, s.clock.Now(), processingError); err != nil {
		s.log.Warn("failed to mark webhook event processed", zap.Int64("event_id", record.ID.Int64()), zap.Error(err))
	}
	s.metrics.RecordWebhookEvent(ctx, provider, event.EventName, outcome)

	if applyErr != nil {
		s.log.Error("webhook processing failed",
			zap.String("provider", provider),
			zap.String("event_name", event.EventName),
			zap.String("user_id", event.UserID),
			zap.Error(applyErr),
		)
		return paymentdomain.IngestResult{}, applyErr
	}
	return paymentdomain.IngestResult{EventName: event.EventName, Ignored: !handled}, nil
}

func (s *Service) ListEvents(ctx context.Context, limit int) ([]paymentdomain.WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultEventListLimit
	}
	if limit > maxEventListLimit {
		limit = maxEventListLimit
	}
	items, err := s.repo.ListEvents(ctx, s.db, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []paymentdomain.WebhookEvent{}
	}
	return items, nil
}
