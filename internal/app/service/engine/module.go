package engine

import (
	"go.uber.org/fx"

	"github.com/jordancrombie/nsim/internal/app/service/notification"
)

// Module exposes the transaction engine via Fx.
var Module = fx.Options(
	fx.Provide(func(d *notification.Dispatcher) Notifier { return d }),
	fx.Provide(NewService),
)
