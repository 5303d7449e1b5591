package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	analysisdomain "github.com/smallbiznis/viotraix/internal/analysis/domain"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"github.com/smallbiznis/viotraix/internal/observability/logger"
	"github.com/smallbiznis/viotraix/internal/providers/pdf"
	"go.uber.org/zap"
)

const (
	uploadFormField = "file"
	// maxUploadBody bounds the whole multipart request; per-file limits are
	// checked by the audit service.
	maxUploadBody = auditdomain.MaxFilesPerAudit*auditdomain.MaxUploadBytes + 1<<20
	// uploadMemory is kept in memory before multipart spills parts to disk.
	uploadMemory = 32 << 20
)

func (s *Server) UploadAudit(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	if err := c.Request.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, auditdomain.ErrFileTooLarge)
			return
		}
		AbortWithError(c, auditdomain.ErrNoFile)
		return
	}
	defer func() {
		if c.Request.MultipartForm != nil {
			_ = c.Request.MultipartForm.RemoveAll()
		}
	}()

	headers := c.Request.MultipartForm.File[uploadFormField]
	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.auditSvc.Create(c.Request.Context(), auditdomain.CreateRequest{
		UserID:   identity.UserID,
		Industry: c.Request.FormValue("industry"),
		Files:    uploads,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("audit_id", result.AuditID)
	c.JSON(http.StatusOK, result)
}

func openUploads(headers []*multipart.FileHeader) ([]auditdomain.Upload, func(), error) {
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]auditdomain.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload: %w", err)
		}
		files = append(files, f)
		uploads = append(uploads, auditdomain.Upload{
			FileName:    h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Size:        h.Size,
			Content:     f,
		})
	}
	return uploads, closeAll, nil
}

type analyzeRequest struct {
	AuditID string `json:"auditId"`
}

func (s *Server) AnalyzeAudit(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AuditID) == "" {
		AbortWithError(c, analysisdomain.ErrAuditIDRequired)
		return
	}
	c.Set("audit_id", strings.TrimSpace(req.AuditID))

	result, err := s.analysisSvc.Run(c.Request.Context(), identity.UserID, req.AuditID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.AlreadyAnalyzed {
		c.JSON(http.StatusOK, gin.H{"message": "Already analyzed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "result": result.Result})
}

func (s *Server) ListAudits(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		AbortWithError(c, auditdomain.ErrInvalidListParam)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		AbortWithError(c, auditdomain.ErrInvalidListParam)
		return
	}

	result, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		UserID:   identity.UserID,
		Limit:    limit,
		Offset:   offset,
		Status:   c.Query("status"),
		Industry: c.Query("industry"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) GetAudit(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	audit, err := s.auditSvc.Get(c.Request.Context(), identity.UserID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit": audit})
}

func (s *Server) DeleteAudit(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	if err := s.auditSvc.Delete(c.Request.Context(), identity.UserID, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DownloadAuditPDF renders the report of a completed audit created on the
// pro plan.
func (s *Server) DownloadAuditPDF(c *gin.Context) {
	identity, ok := requireUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	audit, err := s.auditSvc.Get(ctx, identity.UserID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !audit.PDFEligible {
		AbortWithError(c, ErrPDFNotEligible)
		return
	}

	result, err := audit.Result()
	if err != nil {
		logger.FromContext(ctx).Error("decode audit result", zap.String("audit_id", audit.ID), zap.Error(err))
	}
	if audit.Status != auditdomain.StatusCompleted || result == nil {
		AbortWithError(c, ErrAuditNotCompleted)
		return
	}

	report, err := s.reports.RenderAudit(*result, pdf.AuditMeta{
		FileName:  audit.FileName,
		Industry:  audit.IndustryType,
		CreatedAt: audit.CreatedAt,
	}, s.clock.Now())
	if err != nil {
		AbortWithError(c, errors.Join(ErrReportRenderFailed, err))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName))
	c.Data(http.StatusOK, "application/pdf", report.Content)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
