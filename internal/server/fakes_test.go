package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	analysisdomain "github.com/smallbiznis/viotraix/internal/analysis/domain"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
	"github.com/smallbiznis/viotraix/internal/auth/session"
	"github.com/smallbiznis/viotraix/internal/authorization"
	checkoutdomain "github.com/smallbiznis/viotraix/internal/checkout/domain"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability"
	obsmetrics "github.com/smallbiznis/viotraix/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	"github.com/smallbiznis/viotraix/internal/providers/pdf"
	"github.com/smallbiznis/viotraix/internal/ratelimit"
	reminderdomain "github.com/smallbiznis/viotraix/internal/reminder/domain"
	usagedomain "github.com/smallbiznis/viotraix/internal/usage/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fakeVerifier struct {
	tokens map[string]authdomain.Identity
}

func (f *fakeVerifier) Verify(ctx context.Context, rawToken string) (authdomain.Identity, error) {
	if rawToken == "" {
		return authdomain.Identity{}, authdomain.ErrMissingToken
	}
	id, ok := f.tokens[rawToken]
	if !ok {
		return authdomain.Identity{}, authdomain.ErrInvalidToken
	}
	return id, nil
}

type fakeProfiles struct {
	ensured []string
}

func (f *fakeProfiles) Ensure(ctx context.Context, id, email string) (*profiledomain.Profile, error) {
	f.ensured = append(f.ensured, id)
	return &profiledomain.Profile{ID: id, Email: email, Plan: profiledomain.PlanNone, SubscriptionStatus: profiledomain.StatusNone}, nil
}

func (f *fakeProfiles) Get(ctx context.Context, id string) (*profiledomain.Profile, error) {
	return &profiledomain.Profile{ID: id}, nil
}

type fakeUsage struct {
	entitlement usagedomain.Entitlement
}

func (f *fakeUsage) Resolve(ctx context.Context, userID string) (usagedomain.Entitlement, error) {
	return f.entitlement, nil
}

func (f *fakeUsage) Consume(ctx context.Context, userID string) error { return nil }

type uploadedFile struct {
	name        string
	contentType string
	size        int64
	body        []byte
}

type fakeAudits struct {
	createErr error
	created   []uploadedFile
	industry  string
	audits    map[string]*auditdomain.Audit
	listReq   auditdomain.ListRequest
	deleted   []string
	deleteErr error
}

func (f *fakeAudits) Create(ctx context.Context, req auditdomain.CreateRequest) (auditdomain.CreateResult, error) {
	if f.createErr != nil {
		return auditdomain.CreateResult{}, f.createErr
	}
	f.industry = req.Industry
	for _, u := range req.Files {
		body, err := io.ReadAll(u.Content)
		if err != nil {
			return auditdomain.CreateResult{}, err
		}
		f.created = append(f.created, uploadedFile{name: u.FileName, contentType: u.ContentType, size: u.Size, body: body})
	}
	if len(req.Files) == 0 {
		return auditdomain.CreateResult{}, auditdomain.ErrNoFile
	}
	return auditdomain.CreateResult{AuditID: "audit-new"}, nil
}

func (f *fakeAudits) Get(ctx context.Context, userID, id string) (*auditdomain.Audit, error) {
	a, ok := f.audits[id]
	if !ok || a.UserID != userID {
		return nil, auditdomain.ErrNotFound
	}
	return a, nil
}

func (f *fakeAudits) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResult, error) {
	f.listReq = req
	return auditdomain.ListResult{Audits: []auditdomain.Summary{}, Total: 0}, nil
}

func (f *fakeAudits) Delete(ctx context.Context, userID, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAudits) Stats(ctx context.Context, userID string) (auditdomain.Stats, error) {
	return auditdomain.Stats{TotalAudits: 3}, nil
}

type fakeAnalysis struct {
	result analysisdomain.RunResult
	err    error
}

func (f *fakeAnalysis) Run(ctx context.Context, userID, auditID string) (analysisdomain.RunResult, error) {
	return f.result, f.err
}

type fakeCheckout struct {
	last checkoutdomain.Request
	err  error
}

func (f *fakeCheckout) Create(ctx context.Context, req checkoutdomain.Request) (checkoutdomain.Result, error) {
	f.last = req
	if f.err != nil {
		return checkoutdomain.Result{}, f.err
	}
	return checkoutdomain.Result{CheckoutURL: "https://viotraix.lemonsqueezy.com/checkout/abc"}, nil
}

type fakePayments struct {
	err      error
	payloads [][]byte
}

func (f *fakePayments) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return paymentdomain.IngestResult{}, f.err
	}
	return paymentdomain.IngestResult{EventName: paymentdomain.EventOrderCreated}, nil
}

func (f *fakePayments) ListEvents(ctx context.Context, limit int) ([]paymentdomain.WebhookEvent, error) {
	return []paymentdomain.WebhookEvent{{Provider: paymentdomain.ProviderLemonSqueezy, EventName: paymentdomain.EventOrderCreated}}, nil
}

type fakeReminders struct {
	runs int
	err  error
}

func (f *fakeReminders) Run(ctx context.Context) (reminderdomain.Result, error) {
	f.runs++
	if f.err != nil {
		return reminderdomain.Result{}, f.err
	}
	return reminderdomain.Result{Success: true, RemindersSent: 2, Timestamp: testNow}, nil
}

type testServer struct {
	engine    *gin.Engine
	profiles  *fakeProfiles
	usage     *fakeUsage
	audits    *fakeAudits
	analysis  *fakeAnalysis
	checkout  *fakeCheckout
	payments  *fakePayments
	reminders *fakeReminders
}

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type testOption func(*config.Config)

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{AdminEmail: "admin@viotraix.com"}
	for _, opt := range opts {
		opt(&cfg)
	}

	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)

	ts := &testServer{
		engine:    NewEngine(cfg, observability.Config{Environment: "test"}, obsmetrics.NewHTTPMetrics(obsmetrics.Config{ServiceName: "viotraix-test"})),
		profiles:  &fakeProfiles{},
		usage:     &fakeUsage{},
		audits:    &fakeAudits{audits: map[string]*auditdomain.Audit{}},
		analysis:  &fakeAnalysis{},
		checkout:  &fakeCheckout{},
		payments:  &fakePayments{},
		reminders: &fakeReminders{},
	}

	NewServer(ServerParams{
		Gin:   ts.engine,
		Cfg:   cfg,
		Clock: clock.NewFakeClock(testNow),
		Verifier: &fakeVerifier{tokens: map[string]authdomain.Identity{
			userToken:  {UserID: "user-1", Email: "owner@viotraix.test"},
			adminToken: {UserID: "admin-1", Email: "admin@viotraix.com"},
		}},
		Sessions:    session.NewManager(cfg),
		AuthzSvc:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Cfg: cfg, Enforcer: enforcer}),
		ProfileSvc:  ts.profiles,
		UsageSvc:    ts.usage,
		AuditSvc:    ts.audits,
		AnalysisSvc: ts.analysis,
		CheckoutSvc: ts.checkout,
		PaymentSvc:  ts.payments,
		ReminderSvc: ts.reminders,
		Reports:     pdf.New(zap.NewNop()),
		Limiter:     ratelimit.NewAuditLimiter(cfg, nil),
	})
	return ts
}

func withCronSecret(secret string) testOption {
	return func(c *config.Config) { c.CronSecret = secret }
}

func withRateLimit(rate float64, burst int) testOption {
	return func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, AuditRate: rate, AuditBurst: burst}
	}
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var payload errorResponse
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Error
}
