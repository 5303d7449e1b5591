package analysis

import (
	"github.com/smallbiznis/viotraix/internal/analysis/service"
	"go.uber.org/fx"
)

var Module = fx.Module("analysis.service",
	fx.Provide(service.ProvideAnalyzer),
	fx.Provide(service.New),
)
