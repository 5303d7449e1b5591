package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	obsmetrics "github.com/smallbiznis/viotraix/internal/observability/metrics"
	"github.com/smallbiznis/viotraix/internal/ratelimit"
	reminderdomain "github.com/smallbiznis/viotraix/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobRenewalReminders = "renewal_reminders"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Reminders reminderdomain.Service
	Locker    *ratelimit.Locker `optional:"true"`
	Config    Config            `optional:"true"`
}

// Scheduler sweeps renewal reminders once per UTC day. It is driven by
// RunForever in the scheduler app and by RunOnce in tests.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	reminders reminderdomain.Service
	locker    locker
	metrics   *obsmetrics.SchedulerMetrics

	mu       sync.Mutex
	sweptDay string
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Reminders == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:       p.Log.Named("scheduler"),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		reminders: p.Reminders,
		metrics:   obsmetrics.Scheduler(),
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

func (s *Scheduler) schedMetrics() *obsmetrics.SchedulerMetrics {
	if s.metrics == nil {
		s.metrics = obsmetrics.Scheduler()
	}
	return s.metrics
}

// runJob executes fn under timeout. Hitting the deadline is logged and
// counted but not returned: the next tick tries again.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	m := s.schedMetrics()
	m.IncJobRun(name)

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	ctx, r := s.beginRun(ctx, name)

	err := fn(ctx)
	m.ObserveJobDuration(name, s.clock.Now().Sub(r.started))
	if err != nil {
		r.fail()
	}
	s.endRun(ctx, r)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		m.IncJobTimeout(name)
		m.IncJobError(name, err)
		s.logFor(ctx).Warn("scheduler.job.timeout", zap.String("job", name), zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	default:
		m.IncJobError(name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
}

// RunOnce gives every enabled job one chance to run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.jobEnabled(JobRenewalReminders) {
		return nil
	}
	return s.runDaily(ctx, JobRenewalReminders, s.RenewalRemindersJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.cfg.RunInterval
	due := s.clock.Now()
	for {
		if lag := s.clock.Now().Sub(due); lag > 0 {
			s.schedMetrics().ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler.tick.failed", zap.Error(err))
		}
		due = due.Add(interval)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) jobEnabled(job string) bool {
	return len(s.cfg.EnabledJobs) == 0 || slices.ContainsFunc(s.cfg.EnabledJobs, func(name string) bool {
		return strings.EqualFold(strings.TrimSpace(name), job)
	})
}

// runDaily runs fn at most once per UTC day, after the configured hour.
// With redis configured the day is claimed by a lock that outlives the run,
// so only one replica sweeps; a failed run releases it for a retry.
func (s *Scheduler) runDaily(ctx context.Context, job string, fn func(context.Context) error) error {
	now := s.clock.Now().UTC()
	if now.Hour() < s.cfg.ReminderHour {
		return nil
	}
	day := now.Format(time.DateOnly)
	if s.swept(day) {
		return nil
	}

	key := "scheduler:" + job + ":" + day
	token, claimed := s.claim(ctx, job, key)
	if !claimed {
		s.schedMetrics().IncJobSkipped(job, obsmetrics.SchedulerSkipReasonLockHeld)
		s.markSwept(day)
		return nil
	}

	if err := s.runJob(ctx, job, s.cfg.JobTimeout, fn); err != nil {
		if token != "" {
			_ = s.locker.Release(context.WithoutCancel(ctx), key, token)
		}
		return err
	}
	s.markSwept(day)
	return nil
}

// claim takes the day lock. A redis failure runs the sweep unlocked.
func (s *Scheduler) claim(ctx context.Context, job, key string) (string, bool) {
	if s.locker == nil {
		return "", true
	}
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("scheduler.lock.unavailable", zap.String("job", job), zap.Error(err))
		return "", true
	}
	return token, ok
}

func (s *Scheduler) swept(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweptDay == day
}

func (s *Scheduler) markSwept(day string) {
	s.mu.Lock()
	s.sweptDay = day
	s.mu.Unlock()
}

func (s *Scheduler) RenewalRemindersJob(ctx context.Context) error {
	res, err := s.reminders.Run(ctx)
	if err != nil {
		return err
	}
	runFrom(ctx).add(res.RemindersSent)
	s.schedMetrics().AddBatchProcessed(JobRenewalReminders, "emails", res.RemindersSent)
	return nil
}
