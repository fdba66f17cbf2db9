package quota

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/modules/config"
	"prop_terminal/internal/modules/quota/service"
	storeservice "prop_terminal/internal/modules/store/service"
)

func NewTracker(lc fx.Lifecycle, cfg *config.Config, store storeservice.Store, log *zap.Logger) (*service.Tracker, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	t := service.NewTracker(store, service.Options{
		Allowances: cfg.Quota.Tiers,
		Location:   loc,
	}, log.Named("quota"))

	lc.Append(fx.Hook{
		OnStart: t.Init,
		OnStop: func(ctx context.Context) error {
			return t.Flush(ctx)
		},
	})
	return t, nil
}

func Module() fx.Option {
	return fx.Module("quota",
		fx.Provide(NewTracker),
	)
}
