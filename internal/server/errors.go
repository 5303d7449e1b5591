package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	analysisdomain "github.com/smallbiznis/viotraix/internal/analysis/domain"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
	"github.com/smallbiznis/viotraix/internal/authorization"
	checkoutdomain "github.com/smallbiznis/viotraix/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
	reminderdomain "github.com/smallbiznis/viotraix/internal/reminder/domain"
	"gorm.io/gorm"
)

type errorResponse struct {
	Error string `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")

	ErrPDFNotEligible     = errors.New("pdf_not_eligible")
	ErrAuditNotCompleted  = errors.New("audit_not_completed")
	ErrWebhookFailed      = errors.New("webhook_processing_failed")
	ErrReportRenderFailed = errors.New("report_render_failed")
)

const (
	errorTypeValidation   = "validation_error"
	errorTypeUnauthorized = "unauthorized"
	errorTypeForbidden    = "forbidden"
	errorTypeNotFound     = "not_found"
	errorTypeConflict     = "conflict"
	errorTypeRateLimited  = "rate_limited"
	errorTypeUnavailable  = "service_unavailable"
	errorTypeInternal     = "internal_error"
)

const (
	messageUnauthorized = "Unauthorized"
	messageInternal     = "Internal server error"
)

type errorRule struct {
	status    int
	errorType string
	message   string
	matches   []error
}

// errorRules are checked in order; the first rule with a matching sentinel
// decides the response.
var errorRules = []errorRule{
	{http.StatusUnauthorized, errorTypeUnauthorized, messageUnauthorized, []error{
		ErrUnauthorized,
		authdomain.ErrMissingToken,
		authdomain.ErrInvalidToken,
		authdomain.ErrMissingSubject,
		authdomain.ErrNotConfigured,
		authorization.ErrInvalidActor,
	}},
	{http.StatusBadRequest, errorTypeValidation, "Missing tokens", []error{authdomain.ErrMissingTokens}},
	{http.StatusForbidden, errorTypeForbidden, "Forbidden", []error{ErrForbidden, authorization.ErrForbidden}},

	{http.StatusUnauthorized, errorTypeUnauthorized, "Invalid signature", []error{paymentdomain.ErrInvalidSignature}},
	{http.StatusBadRequest, errorTypeValidation, "No user ID", []error{paymentdomain.ErrMissingUser}},
	{http.StatusBadRequest, errorTypeValidation, "Invalid payload", []error{paymentdomain.ErrInvalidPayload}},
	{http.StatusNotFound, errorTypeNotFound, "Not found", []error{paymentdomain.ErrInvalidProvider, paymentdomain.ErrProviderNotFound}},
	{http.StatusInternalServerError, errorTypeInternal, "Webhook processing failed", []error{ErrWebhookFailed}},

	{http.StatusForbidden, errorTypeForbidden, "No active plan. Please purchase an audit or subscribe to a plan.", []error{auditdomain.ErrNoActivePlan}},
	{http.StatusForbidden, errorTypeForbidden, "You have reached your audit limit for this billing period. Please upgrade your plan.", []error{auditdomain.ErrLimitReached}},
	{http.StatusForbidden, errorTypeForbidden, "Bulk upload is available on Basic and Pro plans.", []error{auditdomain.ErrBulkNotAllowed}},
	{http.StatusBadRequest, errorTypeValidation, "No file provided", []error{auditdomain.ErrNoFile}},
	{http.StatusBadRequest, errorTypeValidation, "Invalid file type. Please upload JPG, PNG, or WebP.", []error{auditdomain.ErrInvalidFileType}},
	{http.StatusBadRequest, errorTypeValidation, "File too large. Maximum size is 10MB.", []error{auditdomain.ErrFileTooLarge}},
	{http.StatusBadRequest, errorTypeValidation, "Too many files. Maximum is 10 per audit.", []error{auditdomain.ErrTooManyFiles}},
	{http.StatusBadRequest, errorTypeValidation, "Invalid query parameters", []error{auditdomain.ErrInvalidListParam}},
	{http.StatusNotFound, errorTypeNotFound, "Audit not found", []error{auditdomain.ErrNotFound, auditdomain.ErrInvalidID}},
	{http.StatusConflict, errorTypeConflict, "Audit is still being processed.", []error{auditdomain.ErrStillProcessing, analysisdomain.ErrInProgress}},
	{http.StatusForbidden, errorTypeForbidden, "PDF reports are only available for audits created on the Pro plan.", []error{ErrPDFNotEligible}},
	{http.StatusBadRequest, errorTypeValidation, "Audit is not completed yet.", []error{ErrAuditNotCompleted}},

	{http.StatusBadRequest, errorTypeValidation, "Audit ID required", []error{analysisdomain.ErrAuditIDRequired}},
	{http.StatusConflict, errorTypeConflict, "Audit analysis failed. Please upload the image again.", []error{analysisdomain.ErrAlreadyFailed}},
	{http.StatusInternalServerError, errorTypeInternal, "Analysis failed", []error{analysisdomain.ErrAnalysisFailed}},

	{http.StatusBadRequest, errorTypeValidation, "Invalid tier", []error{checkoutdomain.ErrInvalidTier}},
	{http.StatusInternalServerError, errorTypeInternal, "Payment configuration missing", []error{checkoutdomain.ErrNotConfigured}},
	{http.StatusInternalServerError, errorTypeInternal, "Failed to create checkout", []error{checkoutdomain.ErrCheckoutFailed}},

	{http.StatusInternalServerError, errorTypeInternal, "Failed to process reminders", []error{reminderdomain.ErrSweepFailed}},
	{http.StatusInternalServerError, errorTypeInternal, "Failed to generate PDF", []error{ErrReportRenderFailed}},

	{http.StatusBadRequest, errorTypeValidation, "Invalid request", []error{ErrInvalidRequest}},
	{http.StatusTooManyRequests, errorTypeRateLimited, "Too many requests. Please slow down.", []error{ErrRateLimited}},
	{http.StatusNotFound, errorTypeNotFound, "Not found", []error{ErrNotFound, gorm.ErrRecordNotFound}},
	{http.StatusServiceUnavailable, errorTypeUnavailable, "Service unavailable", []error{ErrServiceUnavailable}},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, message := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: message})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	if rule, ok := matchRule(err); ok {
		return rule.status, rule.message
	}
	return http.StatusInternalServerError, messageInternal
}

func matchRule(err error) (errorRule, bool) {
	if err == nil {
		return errorRule{}, false
	}
	for _, rule := range errorRules {
		for _, target := range rule.matches {
			if errors.Is(err, target) {
				return rule, true
			}
		}
	}
	return errorRule{}, false
}

// classifyErrorForLog returns the error type and code recorded on the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	rule, ok := matchRule(err)
	if !ok {
		return errorTypeInternal, "internal_error"
	}
	for _, target := range rule.matches {
		if errors.Is(err, target) {
			return rule.errorType, target.Error()
		}
	}
	return rule.errorType, ""
}
