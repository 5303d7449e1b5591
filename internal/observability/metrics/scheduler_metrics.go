package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonDB                   = "db"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerSkipReasonLockHeld = "lock_held"
)

// SchedulerMetrics are the prometheus series for background jobs. They live
// on the default registry so the API's /metrics endpoint exposes them in the
// monolith binary.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobSkipped     *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics
)

func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig builds the process-wide instance on first use. Later
// calls return it unchanged, whatever cfg they pass.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerOnce.Do(func() {
		scheduler = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return scheduler
}

func ResetSchedulerMetricsForTest() {
	schedulerOnce = sync.Once{}
	scheduler = nil
}

func newSchedulerMetrics(reg prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{
		"service": valueOr(cfg.ServiceName, "viotraix"),
		"env":     valueOr(cfg.Environment, "unknown"),
	}
	counter := func(name, help string, dims ...string) *prometheus.CounterVec {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "viotraix",
			Subsystem:   "scheduler",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, dims)
		return registerOrReuse(reg, vec).(*prometheus.CounterVec)
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "viotraix",
		Subsystem:   "scheduler",
		Name:        "job_duration_seconds",
		Help:        "Wall time of one scheduler job run.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		ConstLabels: labels,
	}, []string{"job"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "viotraix",
		Subsystem:   "scheduler",
		Name:        "run_loop_lag_seconds",
		Help:        "How late a tick started relative to its schedule.",
		Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		ConstLabels: labels,
	})

	return &SchedulerMetrics{
		jobRuns:        counter("job_runs_total", "Scheduler job runs.", "job"),
		jobTimeouts:    counter("job_timeouts_total", "Runs cut off by the job timeout.", "job"),
		jobErrors:      counter("job_errors_total", "Failed runs by reason.", "job", "reason"),
		jobSkipped:     counter("job_skipped_total", "Runs skipped before starting.", "job", "reason"),
		batchProcessed: counter("batch_processed_total", "Items handled by jobs.", "job", "resource"),
		jobDuration:    registerOrReuse(reg, duration).(*prometheus.HistogramVec),
		runLoopLag:     registerOrReuse(reg, lag).(prometheus.Histogram),
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m != nil {
		m.jobRuns.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m != nil {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m != nil {
		m.jobTimeouts.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m != nil && err != nil {
		m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
	}
}

func (m *SchedulerMetrics) IncJobSkipped(job, reason string) {
	if m != nil {
		m.jobSkipped.WithLabelValues(job, reason).Inc()
	}
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, n int) {
	if m != nil && n > 0 {
		m.batchProcessed.WithLabelValues(job, resource).Add(float64(n))
	}
}

func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m != nil && m.runLoopLag != nil {
		m.runLoopLag.Observe(max(d, 0).Seconds())
	}
}

// pgReasons maps postgres SQLSTATE codes to error reasons.
var pgReasons = map[string]string{
	"55P03": SchedulerJobReasonDBLockTimeout,
	"40001": SchedulerJobReasonSerializationFailure,
	"23505": SchedulerJobReasonUniqueViolation,
}

// ClassifySchedulerJobReason reduces a job error to a bounded label value.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return SchedulerJobReasonUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if reason, ok := pgReasons[pgErr.Code]; ok {
			return reason
		}
		return SchedulerJobReasonDB
	}
	for _, dbErr := range []error{gorm.ErrInvalidDB, gorm.ErrInvalidTransaction, gorm.ErrInvalidData, gorm.ErrMissingWhereClause} {
		if errors.Is(err, dbErr) {
			return SchedulerJobReasonDB
		}
	}
	return SchedulerJobReasonUnknown
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
