package store

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/modules/config"
	"prop_terminal/internal/modules/postgres"
	"prop_terminal/internal/modules/store/service"
)

func New(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (service.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		tm, err := postgres.Open(context.Background(), cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(tm.Close))
		return service.NewPg(tm), nil
	case "memory":
		return service.NewMemory(), nil
	default:
		return service.NewFile(cfg.Store.Path, log.Named("store")), nil
	}
}

func Module() fx.Option {
	return fx.Module("store",
		fx.Provide(New),
	)
}
