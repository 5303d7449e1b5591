package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/viotraix/internal/clock"
	obsmetrics "github.com/smallbiznis/viotraix/internal/observability/metrics"
	"github.com/smallbiznis/viotraix/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// isolatedMetrics points the scheduler metrics singleton at a fresh registry
// for the duration of the test.
func isolatedMetrics(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	prevReg, prevGather := prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	prometheus.DefaultRegisterer, prometheus.DefaultGatherer = reg, reg
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "viotraix", Environment: "test"})

	t.Cleanup(func() {
		prometheus.DefaultRegisterer, prometheus.DefaultGatherer = prevReg, prevGather
		obsmetrics.ResetSchedulerMetricsForTest()
	})
	return reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if hasLabels(m, labels) {
				require.NotNil(t, m.GetCounter(), "%s is not a counter", name)
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRunJobSwallowsDeadline(t *testing.T) {
	reg := isolatedMetrics(t)
	s := &Scheduler{log: zap.NewNop(), genID: testutil.MustNode(t), clock: clock.NewFakeClock(time.Time{})}

	err := s.runJob(context.Background(), "slow_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	job := map[string]string{"job": "slow_job"}
	assert.Equal(t, 1.0, counterValue(t, reg, "viotraix_scheduler_job_runs_total", job))
	assert.Equal(t, 1.0, counterValue(t, reg, "viotraix_scheduler_job_timeouts_total", job))
	assert.Equal(t, 1.0, counterValue(t, reg, "viotraix_scheduler_job_errors_total", map[string]string{
		"job":    "slow_job",
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}))
}

func TestRunJobReturnsOtherErrors(t *testing.T) {
	reg := isolatedMetrics(t)
	s := &Scheduler{log: zap.NewNop(), genID: testutil.MustNode(t), clock: clock.NewFakeClock(time.Time{})}

	boom := errors.New("boom")
	err := s.runJob(context.Background(), "broken_job", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken_job")

	assert.Zero(t, counterValue(t, reg, "viotraix_scheduler_job_timeouts_total", map[string]string{"job": "broken_job"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "viotraix_scheduler_job_errors_total", map[string]string{
		"job":    "broken_job",
		"reason": obsmetrics.SchedulerJobReasonUnknown,
	}))
}

func TestRenewalRemindersJobCountsEmails(t *testing.T) {
	reg := isolatedMetrics(t)
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, fake, &fakeReminders{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 2.0, counterValue(t, reg, "viotraix_scheduler_batch_processed_total", map[string]string{
		"job":      JobRenewalReminders,
		"resource": "emails",
	}))
}
