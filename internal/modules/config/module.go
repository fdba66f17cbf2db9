package config

import (
	"go.uber.org/fx"

	"prop_terminal/internal/instruments"
)

// NewCatalog loads the instrument reference data once per process.
func NewCatalog(cfg *Config) (*instruments.Catalog, error) {
	return instruments.LoadFile(cfg.Instruments.File)
}

// Module registers *Config and the instrument catalog as fx providers.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewCatalog,
		),
	)
}
