package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	"github.com/smallbiznis/viotraix/internal/providers/email"
	"github.com/smallbiznis/viotraix/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const appName = "Viotraix"

//go:embed templates/*.html
var templateFS embed.FS

var renewalTemplate = template.Must(template.ParseFS(templateFS, "templates/renewal_reminder.html"))

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	ProfileRepo profiledomain.Repository
	Repo        domain.Repository
	Email       email.Provider
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	profileRepo  profiledomain.Repository
	repo         domain.Repository
	email        email.Provider
	metrics      *metrics.Metrics
	billingURL   string
	supportEmail string
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reminder.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		profileRepo:  p.ProfileRepo,
		repo:         p.Repo,
		email:        p.Email,
		metrics:      p.Metrics,
		billingURL:   strings.TrimRight(p.Cfg.AppURL, "/") + "/billing",
		supportEmail: p.Cfg.Email.SupportEmail,
	}
}

func (s *Service) Run(ctx context.Context) (domain.Result, error) {
	now := s.clock.Now().UTC()
	sent := 0
	for _, days := range domain.Windows {
		n, err := s.runWindow(ctx, now, days)
		sent += n
		if err != nil {
			s.log.Error("reminder window failed", zap.Int("days", days), zap.Error(err))
			return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrSweepFailed, err)
		}
	}

	s.log.Info("reminder sweep finished", zap.Int("reminders_sent", sent))
	return domain.Result{Success: true, RemindersSent: sent, Timestamp: now}, nil
}

// dayBounds covers the UTC calendar day that is days after now.
func dayBounds(now time.Time, days int) (time.Time, time.Time) {
	target := now.UTC().AddDate(0, 0, days)
	start := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Millisecond)
}

func (s *Service) runWindow(ctx context.Context, now time.Time, days int) (int, error) {
	from, to := dayBounds(now, days)
	profiles, err := s.profileRepo.ListRenewingBetween(ctx, s.db, from, to)
	if err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, nil
	}

	notificationType := domain.NotificationType(days)
	emails := make([]string, 0, len(profiles))
	for _, p := range profiles {
		emails = append(emails, p.Email)
	}
	notified, err := s.repo.NotifiedSince(ctx, s.db, emails, notificationType, now.Add(-domain.DedupeWindow))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range profiles {
		if strings.TrimSpace(p.Email) == "" {
			continue
		}
		if _, ok := notified[p.Email]; ok {
			continue
		}
		// Two profiles may share an address.
		notified[p.Email] = struct{}{}

		if s.sendReminder(ctx, now, p, days, notificationType) {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) sendReminder(ctx context.Context, now time.Time, p profiledomain.Profile, days int, notificationType string) bool {
	log := s.log.With(zap.String("user_id", p.ID), zap.Int("days", days))

	subject := Subject(days)
	body, err := s.renderBody(p, days, now)
	if err != nil {
		log.Error("render reminder", zap.Error(err))
		return false
	}

	notification := &domain.Notification{
		ID:       s.genID.Generate().Int64(),
		Email:    p.Email,
		Subject:  subject,
		HTMLBody: body,
		Type:     notificationType,
		SentAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, notification); err != nil {
		log.Error("log reminder notification", zap.Error(err))
	}

	if err := s.email.Send(ctx, []string{p.Email}, subject, body); err != nil {
		log.Error("send reminder", zap.String("provider", s.email.Name()), zap.Error(err))
		return false
	}

	s.metrics.RecordReminderSent(ctx, notificationType)
	log.Info("reminder sent", zap.String("provider", s.email.Name()))
	return true
}

func Subject(days int) string {
	if days <= 1 {
		return appName + ": Your subscription expires tomorrow"
	}
	return fmt.Sprintf("%s: Your subscription expires in %d days", appName, days)
}

type renewalView struct {
	AppName      string
	Name         string
	Plan         string
	Urgency      string
	EndDate      string
	BillingURL   string
	SupportEmail string
	Year         int
}

func (s *Service) renderBody(p profiledomain.Profile, days int, now time.Time) (string, error) {
	name := "there"
	if p.FullName != nil && strings.TrimSpace(*p.FullName) != "" {
		name = strings.TrimSpace(*p.FullName)
	}
	urgency := fmt.Sprintf("expires in %d days", days)
	if days <= 1 {
		urgency = "expires tomorrow"
	}
	endDate := ""
	if p.CurrentPeriodEnd != nil {
		endDate = p.CurrentPeriodEnd.UTC().Format("January 2, 2006")
	}

	view := renewalView{
		AppName:      appName,
		Name:         name,
		Plan:         titleCase(string(p.Plan)),
		Urgency:      urgency,
		EndDate:      endDate,
		BillingURL:   s.billingURL,
		SupportEmail: s.supportEmail,
		Year:         now.Year(),
	}

	var buf bytes.Buffer
	if err := renewalTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
