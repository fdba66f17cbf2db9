package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	envPrefix         = "TERMINAL"
)

// Config ...
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Service struct {
		Host      string `mapstructure:"host"`
		AdminPort int    `mapstructure:"admin_port"`
	} `mapstructure:"service"`

	Gateway struct {
		BaseURL string        `mapstructure:"base_url"`
		WSURL   string        `mapstructure:"ws_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"gateway"`

	Feed struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		StaleAfter   time.Duration `mapstructure:"stale_after"`
		PingInterval time.Duration `mapstructure:"ping_interval"`
	} `mapstructure:"feed"`

	Positions struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"positions"`

	Quota struct {
		Timezone string         `mapstructure:"timezone"`
		Tiers    map[string]int `mapstructure:"tiers"`
	} `mapstructure:"quota"`

	Store struct {
		Driver string `mapstructure:"driver"` // file | postgres
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Instruments struct {
		File string `mapstructure:"file"`
	} `mapstructure:"instruments"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Tracing struct {
		Enabled    bool    `mapstructure:"enabled"`
		Host       string  `mapstructure:"host"`
		Port       int     `mapstructure:"port"`
		// SampleRate below 1 samples probabilistically.
		SampleRate float64 `mapstructure:"sample_rate"`
	} `mapstructure:"tracing"`

	Workspace struct {
		ChallengeID string `mapstructure:"challenge_id"`
		// RiskPct is used to size copy trades whose signal carries no quantity.
		RiskPct float64 `mapstructure:"risk_pct"`
	} `mapstructure:"workspace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.admin_port", 8080)
	v.SetDefault("gateway.base_url", "http://localhost:8000")
	v.SetDefault("gateway.ws_url", "")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("feed.poll_interval", "5s")
	v.SetDefault("feed.stale_after", "30s")
	v.SetDefault("feed.ping_interval", "20s")
	v.SetDefault("positions.poll_interval", "5s")
	v.SetDefault("quota.timezone", "Local")
	v.SetDefault("quota.tiers", map[string]int{
		"10k":  1,
		"25k":  2,
		"50k":  3,
		"100k": 5,
		"200k": 10,
	})
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "data/terminal.json")
	v.SetDefault("store.dsn", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("workspace.challenge_id", "")
	v.SetDefault("instruments.file", "configs/instruments.yaml")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("workspace.risk_pct", 1.0)
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	configDir := os.Getenv(configDirENV)
	if configDir == "" {
		configDir = "configs"
	}
	v.SetConfigFile(configDir + "/" + configFileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", configFileName, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"feed.poll_interval":      c.Feed.PollInterval,
		"positions.poll_interval": c.Positions.PollInterval,
	} {
		if d < time.Second || d > time.Minute {
			return fmt.Errorf("%s must be within [1s, 60s], got %s", name, d)
		}
	}
	for tier, n := range c.Quota.Tiers {
		if n < 0 {
			return fmt.Errorf("quota.tiers.%s must be >= 0", tier)
		}
	}
	switch c.Store.Driver {
	case "file", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// Location resolves quota.timezone; calendar days for the copy quota roll over in it.
func (c *Config) Location() (*time.Location, error) {
	if c.Quota.Timezone == "" || strings.EqualFold(c.Quota.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Quota.Timezone)
}
