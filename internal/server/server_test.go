package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	analysisdomain "github.com/smallbiznis/viotraix/internal/analysis/domain"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"github.com/smallbiznis/viotraix/internal/auth/session"
	checkoutdomain "github.com/smallbiznis/viotraix/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func jsonRequest(method, path string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type testFile struct {
	name        string
	contentType string
	body        []byte
}

func multipartRequest(t *testing.T, industry string, files ...testFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	if industry != "" {
		require.NoError(t, mw.WriteField("industry", industry))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, w.Body.Bytes()))

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/usage", nil), "forged"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, ts.profiles.ensured)
}

func TestCookieAuthEnsuresProfile(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: userToken})

	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"user-1"}, ts.profiles.ensured)
	assert.Contains(t, w.Body.String(), `"canAudit":false`)
}

func TestCreateSessionSetsCookies(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/api/auth/session", map[string]any{
		"access_token":  "a",
		"refresh_token": "r",
		"expires_in":    120,
	}))
	require.Equal(t, http.StatusOK, w.Code)

	names := map[string]int{}
	for _, c := range w.Result().Cookies() {
		names[c.Name] = c.MaxAge
	}
	assert.Equal(t, 120, names[session.AccessCookieName])
	assert.Contains(t, names, session.RefreshCookieName)
}

func TestCreateSessionRequiresBothTokens(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/api/auth/session", map[string]any{"access_token": "a"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing tokens", decodeError(t, w.Body.Bytes()))
}

func TestLogoutClearsCookies(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	require.Equal(t, http.StatusOK, w.Code)
	for _, c := range w.Result().Cookies() {
		assert.Less(t, c.MaxAge, 0, c.Name)
	}
}

func TestUploadPassesFilesToService(t *testing.T) {
	ts := newTestServer(t)

	req := multipartRequest(t, "construction",
		testFile{name: "a.jpg", contentType: "image/jpeg", body: []byte("jpeg-bytes")},
		testFile{name: "b.png", contentType: "image/png", body: nil},
	)
	w := ts.do(authed(req, userToken))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"auditId":"audit-new"}`, w.Body.String())
	require.Len(t, ts.audits.created, 2)
	assert.Equal(t, "a.jpg", ts.audits.created[0].name)
	assert.Equal(t, "image/jpeg", ts.audits.created[0].contentType)
	assert.Equal(t, []byte("jpeg-bytes"), ts.audits.created[0].body)
	assert.Equal(t, int64(0), ts.audits.created[1].size)
	assert.Equal(t, "construction", ts.audits.industry)
}

func TestUploadWithoutMultipartBody(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}")), userToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No file provided", decodeError(t, w.Body.Bytes()))
}

func TestUploadErrorMessages(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{auditdomain.ErrNoActivePlan, http.StatusForbidden, "No active plan. Please purchase an audit or subscribe to a plan."},
		{auditdomain.ErrLimitReached, http.StatusForbidden, "You have reached your audit limit for this billing period. Please upgrade your plan."},
		{auditdomain.ErrInvalidFileType, http.StatusBadRequest, "Invalid file type. Please upload JPG, PNG, or WebP."},
		{auditdomain.ErrFileTooLarge, http.StatusBadRequest, "File too large. Maximum size is 10MB."},
		{auditdomain.ErrBulkNotAllowed, http.StatusForbidden, "Bulk upload is available on Basic and Pro plans."},
		{auditdomain.ErrTooManyFiles, http.StatusBadRequest, "Too many files. Maximum is 10 per audit."},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			ts := newTestServer(t)
			ts.audits.createErr = tc.err

			req := multipartRequest(t, "", testFile{name: "a.gif", contentType: "image/gif", body: []byte("x")})
			w := ts.do(authed(req, userToken))
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.message, decodeError(t, w.Body.Bytes()))
		})
	}
}

func TestUploadRateLimited(t *testing.T) {
	ts := newTestServer(t, withRateLimit(0.0001, 1))

	first := ts.do(authed(multipartRequest(t, "", testFile{name: "a.jpg", contentType: "image/jpeg", body: []byte("x")}), userToken))
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.do(authed(multipartRequest(t, "", testFile{name: "a.jpg", contentType: "image/jpeg", body: []byte("x")}), userToken))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Len(t, ts.audits.created, 1)
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(jsonRequest(http.MethodPost, "/api/analyze", map[string]any{}), userToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Audit ID required", decodeError(t, w.Body.Bytes()))

	ts.analysis.result = analysisdomain.RunResult{AlreadyAnalyzed: true}
	w = ts.do(authed(jsonRequest(http.MethodPost, "/api/analyze", map[string]any{"auditId": "a1"}), userToken))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Already analyzed"}`, w.Body.String())

	ts.analysis.result = analysisdomain.RunResult{}
	ts.analysis.err = analysisdomain.ErrAnalysisFailed
	w = ts.do(authed(jsonRequest(http.MethodPost, "/api/analyze", map[string]any{"auditId": "a1"}), userToken))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Analysis failed", decodeError(t, w.Body.Bytes()))

	ts.analysis.err = analysisdomain.ErrInProgress
	w = ts.do(authed(jsonRequest(http.MethodPost, "/api/analyze", map[string]any{"auditId": "a1"}), userToken))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAnalyzeSuccessReturnsResult(t *testing.T) {
	ts := newTestServer(t)
	ts.analysis.result = analysisdomain.RunResult{Result: &auditdomain.AuditResult{OverallScore: 71, Summary: "Mostly fine."}}

	w := ts.do(authed(jsonRequest(http.MethodPost, "/api/analyze", map[string]any{"auditId": "a1"}), userToken))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                     `json:"success"`
		Result  *auditdomain.AuditResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 71, body.Result.OverallScore)
}

func TestListAuditsParsesQuery(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/audits?limit=20&offset=40&status=completed&industry=warehouse", nil), userToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, ts.audits.listReq.Limit)
	assert.Equal(t, 40, ts.audits.listReq.Offset)
	assert.Equal(t, "completed", ts.audits.listReq.Status)
	assert.Equal(t, "user-1", ts.audits.listReq.UserID)

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/audits?limit=abc", nil), userToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAuditIsOwnerScoped(t *testing.T) {
	ts := newTestServer(t)
	ts.audits.audits["a1"] = &auditdomain.Audit{ID: "a1", UserID: "someone-else", Status: auditdomain.StatusCompleted}

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/audits/a1", nil), userToken))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Audit not found", decodeError(t, w.Body.Bytes()))
}

func TestDeleteAudit(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(httptest.NewRequest(http.MethodDelete, "/api/audits/a1", nil), userToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a1"}, ts.audits.deleted)

	ts.audits.deleteErr = auditdomain.ErrStillProcessing
	w = ts.do(authed(httptest.NewRequest(http.MethodDelete, "/api/audits/a2", nil), userToken))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Audit is still being processed.", decodeError(t, w.Body.Bytes()))
}

func completedAudit(t *testing.T, id string, eligible bool) *auditdomain.Audit {
	t.Helper()
	score := 83
	raw, err := json.Marshal(auditdomain.AuditResult{
		OverallScore:     score,
		Summary:          "Good housekeeping overall.",
		IndustryDetected: "warehouse",
		Violations:       []auditdomain.Violation{},
		CompliantAreas:   []string{"Aisles are clear"},
		PriorityFixes:    []string{},
	})
	require.NoError(t, err)
	return &auditdomain.Audit{
		ID:           id,
		UserID:       "user-1",
		FileName:     "dock photo.jpg",
		IndustryType: "warehouse",
		Status:       auditdomain.StatusCompleted,
		OverallScore: &score,
		ResultJSON:   datatypes.JSON(raw),
		PDFEligible:  eligible,
		CreatedAt:    testNow,
	}
}

func TestDownloadPDF(t *testing.T) {
	ts := newTestServer(t)
	ts.audits.audits["pro"] = completedAudit(t, "pro", true)

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/audits/pro/pdf", nil), userToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="viotraix-audit-dock_photo.jpg.pdf"`, w.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestDownloadPDFGates(t *testing.T) {
	ts := newTestServer(t)
	ts.audits.audits["basic"] = completedAudit(t, "basic", false)
	pending := completedAudit(t, "pending", true)
	pending.Status = auditdomain.StatusPending
	pending.ResultJSON = nil
	ts.audits.audits["pending"] = pending

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/audits/basic/pdf", nil), userToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PDF reports are only available for audits created on the Pro plan.", decodeError(t, w.Body.Bytes()))

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/audits/pending/pdf", nil), userToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Audit is not completed yet.", decodeError(t, w.Body.Bytes()))
}

func TestCreateCheckout(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(jsonRequest(http.MethodPost, "/api/create-checkout", map[string]any{"tier": "pro"}), userToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"checkoutUrl":"https://viotraix.lemonsqueezy.com/checkout/abc"}`, w.Body.String())
	assert.Equal(t, checkoutdomain.Request{UserID: "user-1", Email: "owner@viotraix.test", Tier: "pro"}, ts.checkout.last)

	ts.checkout.err = checkoutdomain.ErrInvalidTier
	w = ts.do(authed(jsonRequest(http.MethodPost, "/api/create-checkout", map[string]any{"tier": "gold"}), userToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid tier", decodeError(t, w.Body.Bytes()))

	ts.checkout.err = checkoutdomain.ErrNotConfigured
	w = ts.do(authed(jsonRequest(http.MethodPost, "/api/create-checkout", map[string]any{"tier": "pro"}), userToken))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Payment configuration missing", decodeError(t, w.Body.Bytes()))
}

func TestWebhook(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"meta":{}}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, []byte(`{"meta":{}}`), ts.payments.payloads[0])

	ts.payments.err = paymentdomain.ErrInvalidSignature
	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid signature", decodeError(t, w.Body.Bytes()))

	ts.payments.err = paymentdomain.ErrMissingUser
	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No user ID", decodeError(t, w.Body.Bytes()))

	ts.payments.err = errors.New("database is gone")
	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Webhook processing failed", decodeError(t, w.Body.Bytes()))
}

func TestCronRequiresSecret(t *testing.T) {
	ts := newTestServer(t, withCronSecret("s3cret"))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/cron/renewal-reminders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, ts.reminders.runs)

	req := httptest.NewRequest(http.MethodGet, "/api/cron/renewal-reminders", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.reminders.runs)
	assert.Contains(t, w.Body.String(), `"remindersSent":2`)
}

func TestCronOpenWithoutSecret(t *testing.T) {
	ts := newTestServer(t)
	ts.reminders.err = errors.New("smtp down")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/cron/renewal-reminders", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to process reminders", decodeError(t, w.Body.Bytes()))
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(httptest.NewRequest(http.MethodPost, "/api/admin/reminders/run", nil), userToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, ts.reminders.runs)

	w = ts.do(authed(httptest.NewRequest(http.MethodPost, "/api/admin/reminders/run", nil), adminToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.reminders.runs)

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/admin/webhook-events?limit=5", nil), adminToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), paymentdomain.EventOrderCreated)
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decodeError(t, w.Body.Bytes()))
}

func TestMapErrorDefaultsToInternal(t *testing.T) {
	status, message := mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", message)

	errType, code := classifyErrorForLog(auditdomain.ErrNotFound)
	assert.Equal(t, errorTypeNotFound, errType)
	assert.Equal(t, "audit_not_found", code)

	status, message = mapError(fmt.Errorf("run: %w", auditdomain.ErrInvalidID))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Audit not found", message)

	status, _ = mapError(analysisdomain.ErrAlreadyFailed)
	assert.Equal(t, http.StatusConflict, status)
}
