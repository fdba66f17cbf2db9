package positions

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/instruments"
	"prop_terminal/internal/modules/config"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	"prop_terminal/internal/modules/positions/service"
	pricefeedservice "prop_terminal/internal/modules/pricefeed/service"
)

// Factory builds one reconciler per opened challenge.
type Factory struct {
	cfg     *config.Config
	client  *gatewayservice.Client
	feed    *pricefeedservice.Feed
	catalog *instruments.Catalog
	log     *zap.Logger
}

func NewFactory(cfg *config.Config, client *gatewayservice.Client, feed *pricefeedservice.Feed, catalog *instruments.Catalog, log *zap.Logger) *Factory {
	return &Factory{cfg: cfg, client: client, feed: feed, catalog: catalog, log: log.Named("positions")}
}

func (f *Factory) New(challengeID string) *service.Reconciler {
	return service.NewReconciler(challengeID, f.client, f.client, f.feed, f.catalog, service.Options{
		Interval: f.cfg.Positions.PollInterval,
	}, f.log)
}

func Module() fx.Option {
	return fx.Module("positions",
		fx.Provide(NewFactory),
	)
}
