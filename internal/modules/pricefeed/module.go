package pricefeed

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/models"
	"prop_terminal/internal/modules/config"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	healthservice "prop_terminal/internal/modules/health/service"
	"prop_terminal/internal/modules/pricefeed/service"
	storeservice "prop_terminal/internal/modules/store/service"
)

type Params struct {
	fx.In

	Cfg    *config.Config
	Client *gatewayservice.Client
	Stream *gatewayservice.Stream
	Store  storeservice.Store
	State  *healthservice.State
	Log    *zap.Logger
}

func NewFeed(p Params) *service.Feed {
	feed := service.NewFeed(p.Client, p.Stream, p.Store, service.Options{
		PollInterval: p.Cfg.Feed.PollInterval,
		StaleAfter:   p.Cfg.Feed.StaleAfter,
	}, p.Log.Named("pricefeed"))

	p.Stream.OnState = func(connected bool) {
		p.State.SetWSConnected(connected)
		feed.StreamStateChanged(connected)
	}
	feed.OnQuote(func(q models.Quote) {
		p.State.TouchTick(q.ObservedAt)
	})
	return feed
}

func Module() fx.Option {
	return fx.Module("pricefeed",
		fx.Provide(NewFeed),
	)
}
