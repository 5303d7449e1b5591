package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/viotraix/internal/observability/context"
	obslogger "github.com/smallbiznis/viotraix/internal/observability/logger"
	"go.uber.org/zap"
)

// run tracks one job execution. Its id is also the request id on ctx, so
// repository and email logs from the job carry it.
type run struct {
	job       string
	id        string
	started   time.Time
	processed int
	failures  int
}

type runCtxKey struct{}

func runFrom(ctx context.Context) *run {
	r, _ := ctx.Value(runCtxKey{}).(*run)
	return r
}

func (r *run) add(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *run) fail() {
	if r != nil {
		r.failures++
	}
}

func (s *Scheduler) beginRun(ctx context.Context, job string) (context.Context, *run) {
	r := &run{job: job, id: s.genID.Generate().String(), started: s.clock.Now()}
	ctx = context.WithValue(ctx, runCtxKey{}, r)
	ctx = obscontext.WithRequestID(ctx, r.id)
	s.logFor(ctx).Info("scheduler.job.start", zap.String("job", job))
	return ctx, r
}

func (s *Scheduler) endRun(ctx context.Context, r *run) {
	log := s.logFor(ctx).With(
		zap.String("job", r.job),
		zap.Duration("elapsed", s.clock.Now().Sub(r.started)),
		zap.Int("processed", r.processed),
		zap.Int("failures", r.failures),
	)
	if r.failures > 0 {
		log.Warn("scheduler.job.finish")
		return
	}
	log.Info("scheduler.job.finish")
}

func (s *Scheduler) logFor(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
