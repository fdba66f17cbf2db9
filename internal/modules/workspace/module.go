package workspace

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/instruments"
	"prop_terminal/internal/modules/config"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	healthservice "prop_terminal/internal/modules/health/service"
	ordersservice "prop_terminal/internal/modules/orders/service"
	"prop_terminal/internal/modules/positions"
	pricefeedservice "prop_terminal/internal/modules/pricefeed/service"
	quotaservice "prop_terminal/internal/modules/quota/service"
	"prop_terminal/internal/modules/workspace/service"
	"prop_terminal/internal/notify"
)

type Params struct {
	fx.In

	Lc        fx.Lifecycle
	Cfg       *config.Config
	Catalog   *instruments.Catalog
	Orders    *ordersservice.Service
	Feed      *pricefeedservice.Feed
	Quota     *quotaservice.Tracker
	Client    *gatewayservice.Client
	Positions *positions.Factory
	Notifier  notify.Notifier
	State     *healthservice.State
	Log       *zap.Logger
}

func New(p Params) *service.Workspace {
	ws := service.New(service.Deps{
		Orders:     p.Orders,
		Feed:       p.Feed,
		Quota:      p.Quota,
		Challenges: p.Client,
		NewReconciler: func(challengeID string) service.Reconciler {
			return p.Positions.New(challengeID)
		},
		Notifier: p.Notifier,
		State:    p.State,
		Symbols:  p.Catalog.Symbols(),
		RiskPct:  decimal.NewFromFloat(p.Cfg.Workspace.RiskPct),
	}, p.Log.Named("workspace"))

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p.Cfg.Workspace.ChallengeID == "" {
				return nil
			}
			_, err := ws.Open(ctx, p.Cfg.Workspace.ChallengeID)
			return err
		},
		OnStop: func(ctx context.Context) error {
			ws.Close(ctx)
			return nil
		},
	})
	return ws
}

func Module() fx.Option {
	return fx.Module("workspace",
		fx.Provide(New),
		fx.Invoke(func(*service.Workspace) {}),
	)
}
