package notify

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/modules/config"
	"prop_terminal/internal/notify"
)

// New picks Telegram when a bot token is configured, stdout otherwise.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) notify.Notifier {
	log = log.Named("notify")
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return notify.NewStdout(log)
	}

	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		log.Warn("telegram unavailable, falling back to stdout", zap.Error(err))
		return notify.NewStdout(log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return tg.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			tg.Stop()
			return nil
		},
	})
	return tg
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(New),
	)
}
