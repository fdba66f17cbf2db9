package gateway

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/modules/config"
	"prop_terminal/internal/modules/gateway/service"
)

func NewClient(cfg *config.Config, log *zap.Logger) *service.Client {
	return service.NewClient(service.Options{
		BaseURL: cfg.Gateway.BaseURL,
		Token:   cfg.Gateway.Token,
		Timeout: cfg.Gateway.Timeout,
	}, log.Named("gateway"))
}

func NewStream(cfg *config.Config, log *zap.Logger) *service.Stream {
	return service.NewStream(cfg.Gateway.WSURL, cfg.Feed.PingInterval, log.Named("stream"))
}

func Module() fx.Option {
	return fx.Module("gateway",
		fx.Provide(
			NewClient,
			NewStream,
		),
	)
}
