package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/viotraix/internal/analysis/domain"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability/logger"
	"github.com/smallbiznis/viotraix/internal/observability/metrics"
	"github.com/smallbiznis/viotraix/internal/observability/tracing"
	"github.com/smallbiznis/viotraix/internal/providers/vision"
	"github.com/smallbiznis/viotraix/internal/ratelimit"
	usagedomain "github.com/smallbiznis/viotraix/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultVisionTimeout = 120 * time.Second

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    config.Config
	Clock     clock.Clock
	AuditRepo auditdomain.Repository
	Usage     usagedomain.Service
	Analyzer  domain.Analyzer
	Metrics   *metrics.Metrics  `optional:"true"`
	Locker    *ratelimit.Locker `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	auditRepo auditdomain.Repository
	usage     usagedomain.Service
	analyzer  domain.Analyzer
	metrics   *metrics.Metrics
	locker    locker
	timeout   time.Duration
}

func New(p Params) domain.Service {
	timeout := p.Config.Vision.Timeout
	if timeout <= 0 {
		timeout = defaultVisionTimeout
	}
	s := &Service{
		db:        p.DB,
		log:       p.Log.Named("analysis.service"),
		clock:     p.Clock,
		auditRepo: p.AuditRepo,
		usage:     p.Usage,
		analyzer:  p.Analyzer,
		metrics:   p.Metrics,
		timeout:   timeout,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s
}

// ProvideAnalyzer exposes the vision client as the analysis backend.
func ProvideAnalyzer(c *vision.Client) domain.Analyzer {
	return c
}

func (s *Service) Run(ctx context.Context, userID, auditID string) (domain.RunResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.RunResult{}, auditdomain.ErrInvalidUser
	}
	auditID = strings.TrimSpace(auditID)
	if auditID == "" {
		return domain.RunResult{}, domain.ErrAuditIDRequired
	}
	if err := auditdomain.CheckID(auditID); err != nil {
		return domain.RunResult{}, err
	}

	audit, err := s.auditRepo.FindByID(ctx, s.db, auditID, userID)
	if err != nil {
		return domain.RunResult{}, err
	}
	if audit == nil {
		return domain.RunResult{}, auditdomain.ErrNotFound
	}

	switch audit.Status {
	case auditdomain.StatusCompleted:
		return alreadyAnalyzed(audit)
	case auditdomain.StatusProcessing:
		return domain.RunResult{}, domain.ErrInProgress
	case auditdomain.StatusFailed:
		return domain.RunResult{}, domain.ErrAlreadyFailed
	}

	if s.locker != nil {
		key := "analysis:" + audit.ID
		token, ok, err := s.locker.TryLock(ctx, key, s.timeout+time.Minute)
		if err != nil {
			s.log.Warn("analysis lock unavailable, continuing without it", zap.String("audit_id", audit.ID), zap.Error(err))
		} else if !ok {
			return domain.RunResult{}, domain.ErrInProgress
		} else {
			defer func() {
				_ = s.locker.Release(context.WithoutCancel(ctx), key, token)
			}()
		}
	}

	claimed, err := s.auditRepo.MarkProcessing(ctx, s.db, audit.ID, s.clock.Now())
	if err != nil {
		return domain.RunResult{}, err
	}
	if !claimed {
		// Another caller moved the audit between the read and the claim.
		latest, err := s.auditRepo.FindByID(ctx, s.db, audit.ID, userID)
		if err != nil {
			return domain.RunResult{}, err
		}
		if latest != nil && latest.Status == auditdomain.StatusCompleted {
			return alreadyAnalyzed(latest)
		}
		return domain.RunResult{}, domain.ErrInProgress
	}

	return s.analyze(ctx, audit)
}

func (s *Service) analyze(ctx context.Context, audit *auditdomain.Audit) (domain.RunResult, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("audit_id", audit.ID))
	// Terminal writes must land even if the client disconnects mid-call.
	persistCtx := context.WithoutCancel(ctx)

	images := audit.Images()
	if len(images) == 0 {
		return domain.RunResult{}, s.fail(persistCtx, log, audit, errors.New("audit has no stored images"))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := s.clock.Now()
	result, err := s.analyzer.Analyze(callCtx, images, audit.IndustryType)
	if err != nil {
		return domain.RunResult{}, s.fail(persistCtx, log, audit, err)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return domain.RunResult{}, s.fail(persistCtx, log, audit, err)
	}

	completed, err := s.auditRepo.MarkCompleted(persistCtx, s.db, audit.ID, result.OverallScore, len(result.Violations), encoded, s.clock.Now())
	if err != nil {
		return domain.RunResult{}, err
	}
	if !completed {
		log.Warn("audit left processing before completion was recorded")
		return domain.RunResult{}, domain.ErrInProgress
	}

	if err := s.usage.Consume(persistCtx, audit.UserID); err != nil {
		// The work was done; the audit stays completed.
		if errors.Is(err, usagedomain.ErrQuotaExhausted) {
			log.Warn("audit completed without remaining quota")
		} else {
			log.Error("failed to record audit usage", zap.Error(err))
		}
	}

	s.metrics.RecordAuditAnalyzed(ctx, "completed", audit.IndustryType)
	log.Info("audit analyzed",
		zap.Int("overall_score", result.OverallScore),
		zap.Int("violations_count", len(result.Violations)),
		zap.Int("images", len(images)),
		zap.Duration("duration", s.clock.Now().Sub(started)),
	)

	return domain.RunResult{Result: result}, nil
}

// fail records the generic user-facing message. The cause is only logged.
func (s *Service) fail(ctx context.Context, log *zap.Logger, audit *auditdomain.Audit, cause error) error {
	log.Error("audit analysis failed", zap.Error(tracing.SafeError(cause)))
	s.metrics.RecordAuditAnalyzed(ctx, "failed", audit.IndustryType)

	if _, err := s.auditRepo.MarkFailed(ctx, s.db, audit.ID, auditdomain.ProcessingErrorMessage, s.clock.Now()); err != nil {
		log.Error("failed to mark audit failed", zap.Error(err))
		return errors.Join(domain.ErrAnalysisFailed, err)
	}
	return domain.ErrAnalysisFailed
}

func alreadyAnalyzed(audit *auditdomain.Audit) (domain.RunResult, error) {
	result, err := audit.Result()
	if err != nil {
		return domain.RunResult{}, err
	}
	return domain.RunResult{AlreadyAnalyzed: true, Result: result}, nil
}
