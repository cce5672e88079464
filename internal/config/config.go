package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration, loadable from a YAML file and
// PAPERTRADE_* environment variables.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig drives the tick loop and orchestrator.
type EngineConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	DefaultMode         string        `mapstructure:"default_mode"`
	MaxConcurrentTrades int           `mapstructure:"max_concurrent_trades"`
	StartingEquity      float64       `mapstructure:"starting_equity"`
	SlippagePercent     float64       `mapstructure:"slippage_percent"`
	Symbols             []string      `mapstructure:"symbols"`
}

// RiskConfig holds account-level guard limits.
type RiskConfig struct {
	MaxDailyLossPercent float64 `mapstructure:"max_daily_loss_percent"`
}

// DatabaseConfig selects the persistence backend. Driver is "memory" or
// "postgres".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// RedisConfig enables the restart-surviving halt mirror when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from the given file path (optional) plus
// environment, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("engine.tick_interval", 5*time.Second)
	v.SetDefault("engine.default_mode", "adaptive")
	v.SetDefault("engine.max_concurrent_trades", 15)
	v.SetDefault("engine.starting_equity", 10000.0)
	v.SetDefault("engine.slippage_percent", 0.0)
	v.SetDefault("engine.symbols", []string{"BTC-USD", "ETH-USD", "SOL-USD"})
	v.SetDefault("risk.max_daily_loss_percent", 5.0)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetEnvPrefix("PAPERTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.StartingEquity <= 0 {
		return fmt.Errorf("engine.starting_equity must be positive")
	}
	if c.Engine.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("engine.max_concurrent_trades must be positive")
	}
	if c.Risk.MaxDailyLossPercent <= 0 {
		return fmt.Errorf("risk.max_daily_loss_percent must be positive")
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}
