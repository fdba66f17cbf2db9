package orders

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/instruments"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	"prop_terminal/internal/modules/orders/service"
	pricefeedservice "prop_terminal/internal/modules/pricefeed/service"
)

func NewService(catalog *instruments.Catalog, feed *pricefeedservice.Feed, client *gatewayservice.Client, log *zap.Logger) *service.Service {
	return service.NewService(catalog, feed, client, log.Named("orders"))
}

func Module() fx.Option {
	return fx.Module("orders",
		fx.Provide(NewService),
	)
}
