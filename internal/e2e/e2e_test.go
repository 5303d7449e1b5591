package e2e

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability"
	"github.com/smallbiznis/viotraix/internal/server"
	"github.com/smallbiznis/viotraix/internal/testutil"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	jwtSecret     = "e2e-jwt-secret"
	webhookSecret = "e2e-webhook-secret"
	cronSecret    = "e2e-cron-secret"
	adminEmail    = "admin@viotraix.test"
	proVariant    = "222"
)

const visionReply = `{
  "overall_score": 64,
  "summary": "Loading dock with one blocked exit.",
  "industry_detected": "warehouse",
  "violations": [
    {"id": 1, "category": "emergency_exit", "severity": "critical", "title": "Blocked exit", "description": "Pallets stacked against the exit door.", "location": "rear wall", "recommendation": "Clear the exit.", "regulatory_reference": "OSHA 1910.37"}
  ],
  "compliant_areas": ["Forklift lane marked"],
  "priority_fixes": ["Clear the rear exit"]
}`

type testEnv struct {
	app         *fx.App
	db          *gorm.DB
	baseURL     string
	httpSrv     *httptest.Server
	visionSrv   *httptest.Server
	visionCalls atomic.Int32
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	e := &testEnv{}
	e.visionSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.visionCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": visionReply}}},
		})
	}))
	setDefaultEnv(e.visionSrv.URL)

	dbConn, err := testutil.Open("e2e")
	if err != nil {
		e.visionSrv.Close()
		return nil, err
	}
	e.db = dbConn

	var engine *gin.Engine
	e.app = fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		clock.Module,
		fx.Supply(dbConn),
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(1) }),
		server.Services,
		fx.Provide(server.NewEngine),
		fx.Invoke(server.NewServer),
		fx.Populate(&engine),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.app.Start(ctx); err != nil {
		e.shutdown()
		return nil, err
	}

	e.httpSrv = httptest.NewServer(engine)
	e.baseURL = e.httpSrv.URL
	return e, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.visionSrv != nil {
		e.visionSrv.Close()
	}
	if e.db != nil {
		if sqlDB, err := e.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func setDefaultEnv(visionURL string) {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("AUTH_COOKIE_SECURE", "false")
	_ = os.Setenv("AUTH_JWT_SECRET", jwtSecret)
	_ = os.Setenv("AUTH_JWT_AUDIENCE", "authenticated")
	_ = os.Setenv("LEMONSQUEEZY_WEBHOOK_SECRET", webhookSecret)
	_ = os.Setenv("LEMONSQUEEZY_VARIANT_PRO", proVariant)
	_ = os.Setenv("OPENAI_API_KEY", "sk-e2e")
	_ = os.Setenv("OPENAI_BASE_URL", visionURL)
	_ = os.Setenv("CRON_SECRET", cronSecret)
	_ = os.Setenv("ADMIN_EMAIL", adminEmail)
	_ = os.Setenv("EMAIL_PROVIDER", "log")
	_ = os.Setenv("RATE_LIMIT_ENABLED", "false")
	_ = os.Unsetenv("REDIS_ADDR")
	_ = os.Unsetenv("SUPABASE_JWT_SECRET")
	_ = os.Unsetenv("SUPABASE_JWKS_URL")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T) {
	t.Helper()
	for _, table := range []string{"audits", "usage_tracking", "one_time_purchases", "email_notifications", "webhook_events", "profiles"} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_SinglePurchaseAudit(t *testing.T) {
	resetDatabase(t)
	token := signToken(t, "user-single", "single@viotraix.test")

	resp, body := doJSON(t, http.MethodGet, "/api/usage", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage: %d: %s", resp.StatusCode, body)
	}
	if decodeUsage(t, body).CanAudit {
		t.Fatalf("expected no entitlement before purchase")
	}

	order := `{"meta":{"event_name":"order_created","custom_data":{"user_id":"user-single","tier":"single"}},"data":{"id":9001}}`
	resp, body = postWebhook(t, order, webhookSecret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: %d: %s", resp.StatusCode, body)
	}

	_, body = doJSON(t, http.MethodGet, "/api/usage", nil, bearer(token))
	if !decodeUsage(t, body).CanAudit {
		t.Fatalf("expected entitlement after purchase: %s", body)
	}

	auditID := upload(t, token, "warehouse")

	calls := env.visionCalls.Load()
	resp, body = doJSON(t, http.MethodPost, "/api/analyze", map[string]any{"auditId": auditID}, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze: %d: %s", resp.StatusCode, body)
	}
	if got := env.visionCalls.Load() - calls; got != 1 {
		t.Fatalf("expected one vision call, got %d", got)
	}

	resp, body = doJSON(t, http.MethodPost, "/api/analyze", map[string]any{"auditId": auditID}, bearer(token))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Already analyzed") {
		t.Fatalf("second analyze: %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, "/api/audits/"+auditID, nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get audit: %d: %s", resp.StatusCode, body)
	}
	var got struct {
		Audit struct {
			Status          string `json:"status"`
			OverallScore    *int   `json:"overall_score"`
			ViolationsCount int    `json:"violations_count"`
			PDFEligible     bool   `json:"pdf_eligible"`
		} `json:"audit"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if got.Audit.Status != "completed" || got.Audit.OverallScore == nil || *got.Audit.OverallScore != 64 || got.Audit.ViolationsCount != 1 {
		t.Fatalf("unexpected audit: %s", body)
	}
	if got.Audit.PDFEligible {
		t.Fatalf("single purchase audits have no pdf")
	}

	if countRows(t, "one_time_purchases", "user_id = ? AND audits_remaining = 0", "user-single") != 1 {
		t.Fatalf("expected the purchased credit to be consumed")
	}

	resp, body = doJSON(t, http.MethodGet, "/api/audits/"+auditID+"/pdf", nil, bearer(token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for pdf, got %d: %s", resp.StatusCode, body)
	}

	resp, body = uploadRaw(t, token, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 once credits are spent, got %d: %s", resp.StatusCode, body)
	}
}

func TestE2E_ProSubscriptionReport(t *testing.T) {
	resetDatabase(t)
	token := signToken(t, "user-pro", "pro@viotraix.test")

	now := time.Now().UTC()
	sub := fmt.Sprintf(`{"meta":{"event_name":"subscription_created","custom_data":{"user_id":"user-pro"}},
		"data":{"id":"sub_e2e","attributes":{"variant_id":%s,"customer_id":77,"user_email":"pro@viotraix.test",
		"created_at":%q,"renews_at":%q}}}`, proVariant, now.Add(-time.Hour).Format(time.RFC3339), now.AddDate(0, 1, 0).Format(time.RFC3339))
	resp, body := postWebhook(t, sub, webhookSecret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: %d: %s", resp.StatusCode, body)
	}

	_, body = doJSON(t, http.MethodGet, "/api/usage", nil, bearer(token))
	usage := decodeUsage(t, body)
	if !usage.CanAudit || usage.Plan != "pro" || usage.AuditsLimit != 200 {
		t.Fatalf("unexpected usage after subscribing: %s", body)
	}

	auditID := upload(t, token, "")
	resp, body = doJSON(t, http.MethodPost, "/api/analyze", map[string]any{"auditId": auditID}, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze: %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, "/api/audits/"+auditID+"/pdf", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pdf: %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "application/pdf" || !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatalf("expected a pdf document, got %q", resp.Header.Get("Content-Type"))
	}

	_, body = doJSON(t, http.MethodGet, "/api/usage", nil, bearer(token))
	if decodeUsage(t, body).AuditsUsed != 1 {
		t.Fatalf("expected one audit used: %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, "/api/stats", nil, bearer(token))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"totalAudits":1`) {
		t.Fatalf("stats: %d: %s", resp.StatusCode, body)
	}
}

func TestE2E_WebhookRejectsForgedSignature(t *testing.T) {
	resetDatabase(t)

	order := `{"meta":{"event_name":"order_created","custom_data":{"user_id":"user-forged","tier":"single"}},"data":{"id":1}}`
	resp, _ := postWebhook(t, order, "not-the-secret")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if countRows(t, "one_time_purchases", "user_id = ?", "user-forged") != 0 {
		t.Fatalf("forged webhook granted credits")
	}
	if countRows(t, "webhook_events", "1 = 1") != 0 {
		t.Fatalf("forged webhook was recorded")
	}
}

func TestE2E_CronAndAdmin(t *testing.T) {
	resetDatabase(t)

	resp, _ := doJSON(t, http.MethodGet, "/api/cron/renewal-reminders", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cron secret, got %d", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodGet, "/api/cron/renewal-reminders", nil, bearer(cronSecret))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"success":true`) {
		t.Fatalf("cron: %d: %s", resp.StatusCode, body)
	}

	user := signToken(t, "user-plain", "plain@viotraix.test")
	resp, _ = doJSON(t, http.MethodGet, "/api/admin/webhook-events", nil, bearer(user))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	order := `{"meta":{"event_name":"order_created","custom_data":{"user_id":"user-plain","tier":"single"}},"data":{"id":"o-1"}}`
	if resp, body := postWebhook(t, order, webhookSecret); resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: %d: %s", resp.StatusCode, body)
	}

	admin := signToken(t, "user-admin", adminEmail)
	resp, body = doJSON(t, http.MethodGet, "/api/admin/webhook-events?limit=10", nil, bearer(admin))
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "order_created") {
		t.Fatalf("admin events: %d: %s", resp.StatusCode, body)
	}
}

func TestE2E_SessionCookies(t *testing.T) {
	resetDatabase(t)
	token := signToken(t, "user-cookie", "cookie@viotraix.test")

	resp, body := doJSON(t, http.MethodPost, "/api/auth/session", map[string]any{
		"access_token":  token,
		"refresh_token": "refresh",
		"expires_in":    3600,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session: %d: %s", resp.StatusCode, body)
	}

	req, err := http.NewRequest(http.MethodGet, env.baseURL+"/api/usage", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for _, c := range resp.Cookies() {
		req.AddCookie(c)
	}
	usageResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("usage request: %v", err)
	}
	usageResp.Body.Close()
	if usageResp.StatusCode != http.StatusOK {
		t.Fatalf("expected cookie auth to succeed, got %d", usageResp.StatusCode)
	}
	if countRows(t, "profiles", "id = ?", "user-cookie") != 1 {
		t.Fatalf("expected profile created on first request")
	}
}

type usagePayload struct {
	CanAudit    bool   `json:"canAudit"`
	AuditsUsed  int    `json:"auditsUsed"`
	AuditsLimit int    `json:"auditsLimit"`
	Plan        string `json:"plan"`
}

func decodeUsage(t *testing.T, body []byte) usagePayload {
	t.Helper()
	var u usagePayload
	if err := json.Unmarshal(body, &u); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	return u
}

func signToken(t *testing.T, userID, email string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"aud":   "authenticated",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func postWebhook(t *testing.T, payload, secret string) (*http.Response, []byte) {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))

	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/api/webhook", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return do(t, req)
}

func upload(t *testing.T, token, industry string) string {
	t.Helper()
	resp, body := uploadRaw(t, token, industry)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d: %s", resp.StatusCode, body)
	}
	var out struct {
		AuditID string `json:"auditId"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AuditID == "" {
		t.Fatalf("decode upload: %v: %s", err, body)
	}
	return out.AuditID
}

func uploadRaw(t *testing.T, token, industry string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="dock.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	if industry != "" {
		_ = mw.WriteField("industry", industry)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/api/upload", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return do(t, req)
}

func countRows(t *testing.T, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := env.db.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
