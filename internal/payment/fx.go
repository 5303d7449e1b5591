package payment

import (
	"github.com/smallbiznis/viotraix/internal/payment/adapters"
	"github.com/smallbiznis/viotraix/internal/payment/adapters/lemonsqueezy"
	"github.com/smallbiznis/viotraix/internal/payment/repository"
	paymentservice "github.com/smallbiznis/viotraix/internal/payment/service"
	"github.com/smallbiznis/viotraix/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			lemonsqueezy.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
