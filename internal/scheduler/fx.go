package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig, New),
	fx.Invoke(startLoop),
)

// startLoop runs the scheduler for the lifetime of the app. The loop
// context is independent of the start hook context and ends on stop.
func startLoop(lc fx.Lifecycle, s *Scheduler) {
	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(loopCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stop()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
