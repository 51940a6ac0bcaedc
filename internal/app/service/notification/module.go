package notification

import (
	"context"

	"go.uber.org/fx"
)

// Module exposes the notification dispatcher and its delivery workers via Fx.
var Module = fx.Options(
	fx.Provide(NewDispatcher),
	fx.Provide(NewWorkerPool),
	fx.Invoke(runWorkerPool),
)

func runWorkerPool(lc fx.Lifecycle, pool *WorkerPool) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})
}
