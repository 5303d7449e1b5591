// Package testutil opens in-memory databases carrying the application schema.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT,
		plan TEXT NOT NULL DEFAULT 'none',
		subscription_status TEXT NOT NULL DEFAULT 'none',
		current_period_start DATETIME,
		current_period_end DATETIME,
		ls_customer_id TEXT,
		ls_subscription_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		image_url TEXT,
		industry_type TEXT NOT NULL DEFAULT 'general',
		status TEXT NOT NULL DEFAULT 'pending',
		overall_score INTEGER,
		violations_count INTEGER NOT NULL DEFAULT 0,
		result_json TEXT,
		processing_error TEXT,
		pdf_eligible BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE usage_tracking (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		audits_used INTEGER NOT NULL DEFAULT 0,
		audits_limit INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE one_time_purchases (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		ls_order_id TEXT NOT NULL,
		audits_purchased INTEGER NOT NULL DEFAULT 1,
		audits_remaining INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE email_notifications (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL,
		subject TEXT NOT NULL,
		html_body TEXT NOT NULL,
		type TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	)`,
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_name TEXT NOT NULL,
		user_id TEXT,
		payload TEXT NOT NULL,
		processing_error TEXT,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
}

// OpenDB returns an isolated in-memory SQLite database with every table
// created.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := Open(t.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Open is OpenDB for callers without a testing.TB, such as TestMain. The
// caller closes the database.
func Open(name string) (*gorm.DB, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_time_format=sqlite", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return db, nil
}

// MustNode returns a snowflake node for tests.
func MustNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// ProfileSeed describes a profile row for SeedProfile.
type ProfileSeed struct {
	ID          string
	Email       string
	FullName    string
	Plan        string
	Status      string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

func SeedProfile(t testing.TB, db *gorm.DB, seed ProfileSeed) {
	t.Helper()
	if seed.Plan == "" {
		seed.Plan = "none"
	}
	if seed.Status == "" {
		seed.Status = "none"
	}
	if seed.Email == "" {
		seed.Email = seed.ID + "@example.com"
	}
	var fullName any
	if seed.FullName != "" {
		fullName = seed.FullName
	}
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO profiles (id, email, full_name, plan, subscription_status, current_period_start, current_period_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seed.ID, seed.Email, fullName, seed.Plan, seed.Status, seed.PeriodStart, seed.PeriodEnd, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func SeedUsage(t testing.TB, db *gorm.DB, id int64, userID string, start, end time.Time, used, limit int, createdAt time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO usage_tracking (id, user_id, period_start, period_end, audits_used, audits_limit, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, start, end, used, limit, createdAt, createdAt,
	).Error
	if err != nil {
		t.Fatalf("seed usage: %v", err)
	}
}

func SeedPurchase(t testing.TB, db *gorm.DB, id int64, userID, orderID string, remaining int, createdAt time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO one_time_purchases (id, user_id, ls_order_id, audits_purchased, audits_remaining, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, orderID, 1, remaining, createdAt,
	).Error
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

// AuditSeed describes an audits row for SeedAudit.
type AuditSeed struct {
	ID           string
	UserID       string
	FileName     string
	ImageURL     *string
	Industry     string
	Status       string
	OverallScore *int
	Violations   int
	ResultJSON   string
	PDFEligible  bool
	CreatedAt    time.Time
}

func SeedAudit(t testing.TB, db *gorm.DB, seed AuditSeed) {
	t.Helper()
	if seed.FileName == "" {
		seed.FileName = "photo.jpg"
	}
	if seed.Industry == "" {
		seed.Industry = "general"
	}
	if seed.Status == "" {
		seed.Status = "pending"
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = time.Now().UTC()
	}
	var result any
	if seed.ResultJSON != "" {
		result = seed.ResultJSON
	}
	err := db.Exec(
		`INSERT INTO audits (id, user_id, file_name, image_url, industry_type, status, overall_score, violations_count, result_json, pdf_eligible, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seed.ID, seed.UserID, seed.FileName, seed.ImageURL, seed.Industry, seed.Status, seed.OverallScore,
		seed.Violations, result, seed.PDFEligible, seed.CreatedAt, seed.CreatedAt,
	).Error
	if err != nil {
		t.Fatalf("seed audit: %v", err)
	}
}

func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}
