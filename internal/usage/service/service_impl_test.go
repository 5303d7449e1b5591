package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	profiledomain "github.com/smallbiznis/viotraix/internal/profile/domain"
	profilerepo "github.com/smallbiznis/viotraix/internal/profile/repository"
	"github.com/smallbiznis/viotraix/internal/testutil"
	"github.com/smallbiznis/viotraix/internal/usage/domain"
	"github.com/smallbiznis/viotraix/internal/usage/repository"
	"github.com/smallbiznis/viotraix/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	return service.New(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       testutil.MustNode(t),
		Clock:       clock.NewFakeClock(now),
		Repo:        repository.Provide(),
		ProfileRepo: profilerepo.Provide(),
		Plans:       config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog(config.LemonSqueezyConfig{})),
	})
}

func TestResolveWithoutProfile(t *testing.T) {
	svc := newService(t, testutil.OpenDB(t))

	ent, err := svc.Resolve(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ent.CanAudit)
	assert.Equal(t, profiledomain.PlanNone, ent.Plan)
	assert.Nil(t, ent.ExpiredAt)
}

func TestResolvePastPeriodEndIsExpiredRegardlessOfStatus(t *testing.T) {
	db := testutil.OpenDB(t)
	end := now.Add(-time.Hour)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1", Plan: "pro", Status: "active", PeriodEnd: &end})
	testutil.SeedUsage(t, db, 1, "u1", now.AddDate(0, -1, 0), now.AddDate(0, 0, 5), 0, 200, now.AddDate(0, -1, 0))

	ent, err := newService(t, db).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ent.CanAudit)
	assert.True(t, ent.Expired)
	assert.Equal(t, profiledomain.PlanExpired, ent.Plan)
	require.NotNil(t, ent.ExpiredAt)
	assert.True(t, ent.ExpiredAt.Equal(end))
}

func TestResolvePastDueIsExpired(t *testing.T) {
	db := testutil.OpenDB(t)
	end := now.AddDate(0, 0, 3)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1", Plan: "basic", Status: "past_due", PeriodEnd: &end})

	ent, err := newService(t, db).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ent.CanAudit)
	assert.True(t, ent.Expired)
	assert.Equal(t, 0, ent.AuditsLimit)
}

func TestResolveBasicAtLimitBoundary(t *testing.T) {
	db := testutil.OpenDB(t)
	end := now.AddDate(0, 0, 20)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1", Plan: "basic", Status: "active", PeriodEnd: &end})
	testutil.SeedUsage(t, db, 1, "u1", now.AddDate(0, 0, -10), end, 49, 50, now.AddDate(0, 0, -10))
	svc := newService(t, db)
	ctx := context.Background()

	ent, err := svc.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ent.CanAudit)
	assert.Equal(t, 49, ent.AuditsUsed)
	assert.Equal(t, 50, ent.AuditsLimit)

	require.NoError(t, svc.Consume(ctx, "u1"))

	ent, err = svc.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ent.CanAudit)
	assert.Equal(t, 50, ent.AuditsUsed)

	// The counter never passes its limit.
	assert.ErrorIs(t, svc.Consume(ctx, "u1"), domain.ErrQuotaExhausted)
	var used int
	require.NoError(t, db.Raw(`SELECT audits_used FROM usage_tracking WHERE id = 1`).Scan(&used).Error)
	assert.Equal(t, 50, used)
}

func TestResolveCancelledStillActiveUntilPeriodEnd(t *testing.T) {
	db := testutil.OpenDB(t)
	start := now.AddDate(0, 0, -28)
	end := now.AddDate(0, 0, 2)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1", Plan: "basic", Status: "cancelled", PeriodStart: &start, PeriodEnd: &end})
	svc := newService(t, db)

	ent, err := svc.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ent.CanAudit)
	assert.Equal(t, 0, ent.AuditsUsed)
	assert.Equal(t, 50, ent.AuditsLimit)
	require.NotNil(t, ent.ExpiredAt)
	assert.True(t, ent.ExpiredAt.Equal(end))

	// Second resolve reuses the provisioned row.
	_, err = svc.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Table("usage_tracking").Where("user_id = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveProvisionsDefaultPeriodWithoutProfileDates(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1", Plan: "pro", Status: "active"})

	ent, err := newService(t, db).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ent.CanAudit)
	assert.Equal(t, 200, ent.AuditsLimit)
	require.NotNil(t, ent.ExpiredAt)
	assert.True(t, ent.ExpiredAt.Equal(now.AddDate(0, 0, 30)))
}

func TestResolveOneTimePurchases(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1"})
	testutil.SeedPurchase(t, db, 1, "u1", "ord_1", 1, now.Add(-2*time.Hour))
	testutil.SeedPurchase(t, db, 2, "u1", "ord_2", 1, now.Add(-time.Hour))
	testutil.SeedPurchase(t, db, 3, "u1", "ord_3", 0, now.Add(-3*time.Hour))

	ent, err := newService(t, db).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ent.CanAudit)
	assert.Equal(t, profiledomain.PlanSingle, ent.Plan)
	assert.Equal(t, 2, ent.AuditsLimit)
}

func TestConsumeUsesOldestPurchaseFirst(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1"})
	testutil.SeedPurchase(t, db, 10, "u1", "newer", 1, now.Add(-time.Hour))
	testutil.SeedPurchase(t, db, 20, "u1", "older", 1, now.Add(-48*time.Hour))
	svc := newService(t, db)

	require.NoError(t, svc.Consume(context.Background(), "u1"))

	remaining := map[string]int{}
	rows, err := db.Raw(`SELECT ls_order_id, audits_remaining FROM one_time_purchases`).Rows()
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var order string
		var left int
		require.NoError(t, rows.Scan(&order, &left))
		remaining[order] = left
	}
	assert.Equal(t, 0, remaining["older"])
	assert.Equal(t, 1, remaining["newer"])
}

func TestConsumeWithoutQuota(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1"})

	err := newService(t, db).Consume(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
	assert.True(t, service.IsQuotaExhausted(err))
}

func TestConsumeFullPeriodFallsBackToCredits(t *testing.T) {
	db := testutil.OpenDB(t)
	end := now.AddDate(0, 0, 10)
	testutil.SeedProfile(t, db, testutil.ProfileSeed{ID: "u1", Plan: "basic", Status: "active", PeriodEnd: &end})
	testutil.SeedUsage(t, db, 1, "u1", now.AddDate(0, 0, -20), end, 50, 50, now.AddDate(0, 0, -20))
	testutil.SeedPurchase(t, db, 2, "u1", "ord", 1, now.Add(-time.Hour))

	require.NoError(t, newService(t, db).Consume(context.Background(), "u1"))

	var left int
	require.NoError(t, db.Raw(`SELECT audits_remaining FROM one_time_purchases WHERE id = 2`).Scan(&left).Error)
	assert.Equal(t, 0, left)
}
