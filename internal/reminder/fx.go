package reminder

import (
	"github.com/smallbiznis/viotraix/internal/reminder/repository"
	"github.com/smallbiznis/viotraix/internal/reminder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reminder.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
