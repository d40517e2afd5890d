package customer

import (
	"github.com/flowlytix/subscription-server/internal/customer/repository"
	"github.com/flowlytix/subscription-server/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
