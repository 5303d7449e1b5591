// Package domain declares the analysis state machine that takes an audit
// from pending to completed or failed.
package domain

import (
	"context"
	"errors"

	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
)

// Analyzer turns stored images into a validated safety report.
type Analyzer interface {
	Analyze(ctx context.Context, images []string, industryHint string) (*auditdomain.AuditResult, error)
}

type RunResult struct {
	AlreadyAnalyzed bool                     `json:"-"`
	Result          *auditdomain.AuditResult `json:"result"`
}

type Service interface {
	// Run analyzes a pending audit owned by userID. A completed audit is
	// returned unchanged; a failed one has lost its images and must be
	// uploaded again.
	Run(ctx context.Context, userID, auditID string) (RunResult, error)
}

var (
	ErrAuditIDRequired = errors.New("audit_id_required")
	ErrInProgress      = errors.New("analysis_in_progress")
	ErrAnalysisFailed  = errors.New("analysis_failed")
	ErrAlreadyFailed   = errors.New("analysis_already_failed")
)
