package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/viotraix/internal/audit/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const auditColumns = `id, user_id, file_name, image_url, industry_type, status, overall_score,
	violations_count, result_json, processing_error, pdf_eligible, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, audit *domain.Audit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO audits (`+auditColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.ID,
		audit.UserID,
		audit.FileName,
		audit.ImageURL,
		audit.IndustryType,
		audit.Status,
		audit.OverallScore,
		audit.ViolationsCount,
		audit.ResultJSON,
		audit.ProcessingError,
		audit.PDFEligible,
		audit.CreatedAt,
		audit.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Audit, error) {
	var item domain.Audit
	err := db.WithContext(ctx).Raw(
		`SELECT `+auditColumns+`
		 FROM audits
		 WHERE id = ? AND user_id = ?
		 LIMIT 1`,
		id,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func listFilter(req domain.ListRequest) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{req.UserID}
	if req.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, req.Status)
	}
	if req.Industry != "" {
		clauses = append(clauses, "industry_type = ?")
		args = append(args, req.Industry)
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]domain.Summary, error) {
	where, args := listFilter(req)
	args = append(args, req.Limit, req.Offset)

	var items []domain.Summary
	err := db.WithContext(ctx).Raw(
		`SELECT id, file_name, industry_type, status, overall_score, violations_count, created_at
		 FROM audits
		 WHERE `+where+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, req domain.ListRequest) (int64, error) {
	where, args := listFilter(req)

	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM audits WHERE `+where,
		args...,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB, userID string) ([]domain.Audit, error) {
	var items []domain.Audit
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, file_name, industry_type, status, overall_score,
			violations_count, result_json, pdf_eligible, created_at, updated_at
		 FROM audits
		 WHERE user_id = ?
		 ORDER BY created_at ASC, id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id, userID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM audits
		 WHERE id = ? AND user_id = ? AND status IN (?, ?)`,
		id,
		userID,
		domain.StatusCompleted,
		domain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE audits
		 SET status = ?, processing_error = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id string, score, violations int, result datatypes.JSON, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE audits
		 SET status = ?,
		     overall_score = ?,
		     violations_count = ?,
		     result_json = ?,
		     image_url = NULL,
		     processing_error = NULL,
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		score,
		violations,
		result,
		now,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id, message string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE audits
		 SET status = ?,
		     processing_error = ?,
		     image_url = NULL,
		     updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusFailed,
		message,
		now,
		id,
		domain.StatusCompleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
