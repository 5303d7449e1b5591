package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/viotraix/internal/audit/domain"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	usagedomain "github.com/smallbiznis/viotraix/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Usage   usagedomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	usage   usagedomain.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("audit.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		usage:   p.Usage,
		metrics: p.Metrics,
	}
}

// Create validates every file before anything is stored, then records a
// pending audit holding the images inline.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.CreateResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.CreateResult{}, domain.ErrInvalidUser
	}

	entitlement, err := s.usage.Resolve(ctx, userID)
	if err != nil {
		return domain.CreateResult{}, err
	}
	if !entitlement.CanAudit {
		if entitlement.Plan == profiledomain.PlanNone {
			return domain.CreateResult{}, domain.ErrNoActivePlan
		}
		return domain.CreateResult{}, domain.ErrLimitReached
	}

	if err := validateUploads(req.Files, entitlement.Plan); err != nil {
		return domain.CreateResult{}, err
	}

	urls := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		dataURL, err := encodeDataURL(f)
		if err != nil {
			return domain.CreateResult{}, err
		}
		urls = append(urls, dataURL)
	}

	image := urls[0]
	fileName := fileNameOf(req.Files[0])
	if len(urls) > 1 {
		encoded, err := json.Marshal(urls)
		if err != nil {
			return domain.CreateResult{}, err
		}
		image = string(encoded)
		fileName = fmt.Sprintf("%s (+%d more)", fileName, len(urls)-1)
	}

	now := s.clock.Now()
	audit := &domain.Audit{
		ID:           uuid.NewString(),
		UserID:       userID,
		FileName:     fileName,
		ImageURL:     &image,
		IndustryType: NormalizeIndustry(req.Industry),
		Status:       domain.StatusPending,
		PDFEligible:  entitlement.Plan == profiledomain.PlanPro,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, audit); err != nil {
		return domain.CreateResult{}, err
	}

	s.metrics.RecordAuditCreated(ctx, string(entitlement.Plan), len(urls))
	s.log.Info("audit created",
		zap.String("audit_id", audit.ID),
		zap.String("user_id", userID),
		zap.String("plan", string(entitlement.Plan)),
		zap.Int("images", len(urls)),
		zap.String("industry", audit.IndustryType),
	)

	return domain.CreateResult{AuditID: audit.ID}, nil
}

func validateUploads(files []domain.Upload, plan profiledomain.Plan) error {
	if len(files) == 0 {
		return domain.ErrNoFile
	}
	if len(files) > 1 {
		if !plan.IsSubscription() {
			return domain.ErrBulkNotAllowed
		}
		if len(files) > domain.MaxFilesPerAudit {
			return domain.ErrTooManyFiles
		}
	}
	for _, f := range files {
		if f.Content == nil {
			return domain.ErrNoFile
		}
		if _, ok := domain.AllowedContentTypes[normalizeContentType(f.ContentType)]; !ok {
			return domain.ErrInvalidFileType
		}
		if f.Size > domain.MaxUploadBytes {
			return domain.ErrFileTooLarge
		}
	}
	return nil
}

func encodeDataURL(f domain.Upload) (string, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(f.Content, domain.MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	// The declared size can understate the body.
	if n > domain.MaxUploadBytes {
		return "", domain.ErrFileTooLarge
	}
	return "data:" + normalizeContentType(f.ContentType) + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func normalizeContentType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if i := strings.Index(value, ";"); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return value
}

func fileNameOf(f domain.Upload) string {
	name := strings.TrimSpace(f.FileName)
	if name == "" {
		return "upload"
	}
	return name
}

// NormalizeIndustry maps free-form input to a slug, defaulting to general.
func NormalizeIndustry(value string) string {
	value = slug.Make(strings.TrimSpace(value))
	if value == "" {
		return domain.DefaultIndustry
	}
	return value
}

func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Audit, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	id = strings.TrimSpace(id)
	if err := domain.CheckID(id); err != nil {
		return nil, err
	}

	audit, err := s.repo.FindByID(ctx, s.db, id, userID)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, domain.ErrNotFound
	}
	return audit, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return domain.ListResult{}, domain.ErrInvalidUser
	}
	if req.Limit < 0 || req.Offset < 0 {
		return domain.ListResult{}, domain.ErrInvalidListParam
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status != "" && !domain.Status(req.Status).Valid() {
		return domain.ListResult{}, domain.ErrInvalidListParam
	}
	req.Industry = strings.TrimSpace(req.Industry)

	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return domain.ListResult{}, err
	}
	total, err := s.repo.Count(ctx, s.db, req)
	if err != nil {
		return domain.ListResult{}, err
	}
	if items == nil {
		items = []domain.Summary{}
	}
	return domain.ListResult{Audits: items, Total: total}, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	audit, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !audit.Status.Terminal() {
		return domain.ErrStillProcessing
	}

	deleted, err := s.repo.Delete(ctx, s.db, audit.ID, audit.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		// Status changed between read and delete.
		return domain.ErrStillProcessing
	}

	s.log.Info("audit deleted", zap.String("audit_id", audit.ID), zap.String("user_id", audit.UserID))
	return nil
}
