package subscription

import (
	"github.com/flowlytix/subscription-server/internal/subscription/repository"
	"github.com/flowlytix/subscription-server/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.NewLicenseService),
)
