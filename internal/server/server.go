package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/viotraix/internal/analysis"
	analysisdomain "github.com/smallbiznis/viotraix/internal/analysis/domain"
	"github.com/smallbiznis/viotraix/internal/audit"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"github.com/smallbiznis/viotraix/internal/auth"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
	"github.com/smallbiznis/viotraix/internal/auth/session"
	"github.com/smallbiznis/viotraix/internal/authorization"
	"github.com/smallbiznis/viotraix/internal/checkout"
	checkoutdomain "github.com/smallbiznis/viotraix/internal/checkout/domain"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability"
	obsmiddleware "github.com/smallbiznis/viotraix/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/viotraix/internal/observability/metrics"
	obstracing "github.com/smallbiznis/viotraix/internal/observability/tracing"
	"github.com/smallbiznis/viotraix/internal/payment"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
	"github.com/smallbiznis/viotraix/internal/profile"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	"github.com/smallbiznis/viotraix/internal/providers"
	"github.com/smallbiznis/viotraix/internal/providers/pdf"
	"github.com/smallbiznis/viotraix/internal/ratelimit"
	"github.com/smallbiznis/viotraix/internal/reminder"
	reminderdomain "github.com/smallbiznis/viotraix/internal/reminder/domain"
	"github.com/smallbiznis/viotraix/internal/usage"
	usagedomain "github.com/smallbiznis/viotraix/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Services are the domain modules behind the HTTP routes.
var Services = fx.Options(
	authorization.Module,
	auth.Module,
	profile.Module,
	usage.Module,
	audit.Module,
	analysis.Module,
	checkout.Module,
	payment.Module,
	reminder.Module,
	providers.Module,
	ratelimit.Module,
)

var Module = fx.Module("http.server",
	Services,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsConfig(cfg config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Signature"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.AppURL != "" {
		c.AllowOrigins = []string{cfg.AppURL}
	} else {
		c.AllowOriginFunc = func(string) bool { return true }
	}
	return c
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	clock       clock.Clock
	verifier    authdomain.Verifier
	sessions    *session.Manager
	authzSvc    authorization.Service
	profileSvc  profiledomain.Service
	usageSvc    usagedomain.Service
	auditSvc    auditdomain.Service
	analysisSvc analysisdomain.Service
	checkoutSvc checkoutdomain.Service
	paymentSvc  paymentdomain.Service
	reminderSvc reminderdomain.Service
	reports     pdf.Renderer
	limiter     *ratelimit.AuditLimiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Clock       clock.Clock
	Verifier    authdomain.Verifier
	Sessions    *session.Manager
	AuthzSvc    authorization.Service
	ProfileSvc  profiledomain.Service
	UsageSvc    usagedomain.Service
	AuditSvc    auditdomain.Service
	AnalysisSvc analysisdomain.Service
	CheckoutSvc checkoutdomain.Service
	PaymentSvc  paymentdomain.Service
	ReminderSvc reminderdomain.Service
	Reports     pdf.Renderer
	Limiter     *ratelimit.AuditLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		clock:       p.Clock,
		verifier:    p.Verifier,
		sessions:    p.Sessions,
		authzSvc:    p.AuthzSvc,
		profileSvc:  p.ProfileSvc,
		usageSvc:    p.UsageSvc,
		auditSvc:    p.AuditSvc,
		analysisSvc: p.AnalysisSvc,
		checkoutSvc: p.CheckoutSvc,
		paymentSvc:  p.PaymentSvc,
		reminderSvc: p.ReminderSvc,
		reports:     p.Reports,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/api/auth")
	auth.POST("/session", s.CreateSession)
	auth.POST("/logout", s.Logout)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// Authenticated by signature and cron secret, not by session.
	api.POST("/webhook", s.HandlePaymentWebhook)
	api.GET("/cron/renewal-reminders", s.CronRequired(), s.CronRenewalReminders)

	user := api.Group("", s.AuthRequired())
	{
		user.POST("/upload", s.AuditRateLimit("upload"), s.UploadAudit)
		user.POST("/analyze", s.AuditRateLimit("analyze"), s.AnalyzeAudit)

		user.GET("/audits", s.ListAudits)
		user.GET("/audits/:id", s.GetAudit)
		user.DELETE("/audits/:id", s.DeleteAudit)
		user.GET("/audits/:id/pdf", s.DownloadAuditPDF)

		user.GET("/usage", s.GetUsage)
		user.GET("/stats", s.GetStats)
		user.POST("/create-checkout", s.CreateCheckout)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AuthRequired())
	admin.POST("/reminders/run",
		s.authorizeAction(authorization.ObjectReminders, authorization.ActionRemindersRun),
		s.RunReminders,
	)
	admin.GET("/webhook-events",
		s.authorizeAction(authorization.ObjectWebhookEvents, authorization.ActionWebhookEventsView),
		s.ListWebhookEvents,
	)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
