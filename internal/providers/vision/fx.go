package vision

import "go.uber.org/fx"

var Module = fx.Module("vision.provider",
	fx.Provide(New),
)
