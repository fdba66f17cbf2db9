package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"prop_terminal/internal/modules/config"
	"prop_terminal/internal/modules/gateway"
	"prop_terminal/internal/modules/health"
	"prop_terminal/internal/modules/metrics"
	"prop_terminal/internal/modules/notify"
	"prop_terminal/internal/modules/orders"
	"prop_terminal/internal/modules/positions"
	"prop_terminal/internal/modules/pricefeed"
	"prop_terminal/internal/modules/quota"
	"prop_terminal/internal/modules/store"
	"prop_terminal/internal/modules/workspace"
	"prop_terminal/pkg/logger"
	"prop_terminal/pkg/tracing"
)

const serviceName = "prop-terminal"

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(serviceName)
	return logger.New(cfg.Log.Level)
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	tracing.SetServiceName(serviceName)
	_, closer, err := tracing.InitTracer(tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Host:       cfg.Tracing.Host,
		Port:       cfg.Tracing.Port,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.StopHook(closer))
	return nil
}

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			newLogger,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(),
		fx.Invoke(initTracing),
		metrics.Module(),
		store.Module(),
		gateway.Module(),
		health.Module(),
		pricefeed.Module(),
		orders.Module(),
		positions.Module(),
		quota.Module(),
		notify.Module(),
		workspace.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
	logger.Info("%s stopped", serviceName)
}
