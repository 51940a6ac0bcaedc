package routing

import "go.uber.org/fx"

// Module exposes token routing via Fx.
var Module = fx.Options(
	fx.Provide(NewRouter),
	fx.Provide(NewRegistry),
)
