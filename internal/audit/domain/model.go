// Package domain defines workplace safety audits: the stored record, the
// model's structured result, and the intake and query contracts.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	MaxUploadBytes   = 10 << 20
	MaxFilesPerAudit = 10
	DefaultIndustry  = "general"

	// ProcessingErrorMessage is stored on failed audits and shown to the user.
	ProcessingErrorMessage = "Something went wrong while analyzing your image. Please try again."
)

// AllowedContentTypes are the accepted upload media types.
var AllowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// Audit is one uploaded photo (or batch of photos) and its analysis.
// ImageURL holds a data URL, or a JSON array of data URLs for a batch, and
// is cleared on every terminal transition.
type Audit struct {
	ID              string         `json:"id" gorm:"primaryKey;type:text"`
	UserID          string         `json:"user_id" gorm:"type:text;not null;index"`
	FileName        string         `json:"file_name" gorm:"type:text;not null"`
	ImageURL        *string        `json:"image_url" gorm:"type:text"`
	IndustryType    string         `json:"industry_type" gorm:"type:text;not null"`
	Status          Status         `json:"status" gorm:"type:text;not null"`
	OverallScore    *int           `json:"overall_score"`
	ViolationsCount int            `json:"violations_count" gorm:"not null"`
	ResultJSON      datatypes.JSON `json:"result_json"`
	ProcessingError *string        `json:"processing_error" gorm:"type:text"`
	PDFEligible     bool           `json:"pdf_eligible" gorm:"not null"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Audit) TableName() string { return "audits" }

// Result decodes the stored analysis, or returns nil when there is none.
func (a *Audit) Result() (*AuditResult, error) {
	if a == nil || len(a.ResultJSON) == 0 || string(a.ResultJSON) == "null" {
		return nil, nil
	}
	var result AuditResult
	if err := json.Unmarshal(a.ResultJSON, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Images returns the stored image data URLs. A value that looks like a JSON
// array but does not parse is treated as a single URL.
func (a *Audit) Images() []string {
	if a == nil || a.ImageURL == nil || *a.ImageURL == "" {
		return nil
	}
	raw := *a.ImageURL
	if strings.HasPrefix(raw, "[") {
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err == nil {
			return urls
		}
	}
	return []string{raw}
}

// Summary is the list projection of an audit.
type Summary struct {
	ID              string    `json:"id"`
	FileName        string    `json:"file_name"`
	IndustryType    string    `json:"industry_type"`
	Status          Status    `json:"status"`
	OverallScore    *int      `json:"overall_score"`
	ViolationsCount int       `json:"violations_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Upload is one file of an intake request. Size is the declared byte size
// and is checked before Content is read.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

type CreateRequest struct {
	UserID   string
	Industry string
	Files    []Upload
}

type CreateResult struct {
	AuditID string `json:"auditId"`
}

type ListRequest struct {
	UserID   string
	Limit    int
	Offset   int
	Status   string
	Industry string
}

type ListResult struct {
	Audits []Summary `json:"audits"`
	Total  int64     `json:"total"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, audit *Audit) error
	FindByID(ctx context.Context, db *gorm.DB, id, userID string) (*Audit, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]Summary, error)
	Count(ctx context.Context, db *gorm.DB, req ListRequest) (int64, error)
	// ListAll returns every audit of a user, oldest first, without images.
	ListAll(ctx context.Context, db *gorm.DB, userID string) ([]Audit, error)
	// Delete removes an audit only when it is in a terminal status.
	Delete(ctx context.Context, db *gorm.DB, id, userID string) (bool, error)

	// MarkProcessing moves a pending or failed audit to processing.
	MarkProcessing(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id string, score, violations int, result datatypes.JSON, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id, message string, now time.Time) (bool, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Get(ctx context.Context, userID, id string) (*Audit, error)
	List(ctx context.Context, req ListRequest) (ListResult, error)
	Delete(ctx context.Context, userID, id string) error
	Stats(ctx context.Context, userID string) (Stats, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidID        = errors.New("invalid_audit_id")
	ErrNotFound         = errors.New("audit_not_found")
	ErrNoFile           = errors.New("no_file_provided")
	ErrInvalidFileType  = errors.New("invalid_file_type")
	ErrFileTooLarge     = errors.New("file_too_large")
	ErrTooManyFiles     = errors.New("too_many_files")
	ErrBulkNotAllowed   = errors.New("bulk_upload_not_allowed")
	ErrNoActivePlan     = errors.New("no_active_plan")
	ErrLimitReached     = errors.New("audit_limit_reached")
	ErrStillProcessing  = errors.New("audit_still_processing")
	ErrInvalidListParam = errors.New("invalid_list_param")
)

// CheckID rejects ids that cannot name a stored audit. Callers report it
// the same way as a missing audit.
func CheckID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
