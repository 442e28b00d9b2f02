// Package config defines all configuration for the execution router.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ROUTER_* environment variables. The
// accounts blob itself is a single JSON string, normally supplied through
// ACCOUNTS_CONFIG rather than the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	AccountsJSON string           `mapstructure:"accounts_json"`
	Server       ServerConfig     `mapstructure:"server"`
	Broker       BrokerConfig     `mapstructure:"broker"`
	Executor     ExecutorConfig   `mapstructure:"executor"`
	Strategies   []StrategyConfig `mapstructure:"strategies"`
	Store        StoreConfig      `mapstructure:"store"`
	Logging      LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BrokerConfig holds overrides for the KIS API endpoints. Empty values mean
// the production URLs; tests point them at a local fake.
type BrokerConfig struct {
	RealBaseURL    string        `mapstructure:"real_base_url"`
	VirtualBaseURL string        `mapstructure:"virtual_base_url"`
	CacheSweepAge  time.Duration `mapstructure:"cache_sweep_age"`
}

// ExecutorConfig tunes the signal pipeline's waits.
//
//   - FillWait: how long a signal handler polls for its order to fill.
//   - CloseWait: how long the close leg of a reversal may take; the entry
//     leg is never placed until the close fills.
type ExecutorConfig struct {
	FillWait  time.Duration `mapstructure:"fill_wait"`
	CloseWait time.Duration `mapstructure:"close_wait"`
}

// StrategyConfig is the metadata attached to an account's signal source.
// Limits apply in the executor's risk gate; an inactive strategy rejects
// its account's signals outright.
type StrategyConfig struct {
	Name             string  `mapstructure:"name"`
	AccountID        string  `mapstructure:"account_id"`
	MaxPositionRatio float64 `mapstructure:"max_position_ratio"`
	MaxDailyLoss     float64 `mapstructure:"max_daily_loss"`
	Leverage         float64 `mapstructure:"leverage"`
	IsActive         bool    `mapstructure:"is_active"`
}

// StoreConfig sets where the daily P&L ledger is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults applied to zero-valued fields after load.
const (
	DefaultPort             = 8080
	DefaultFillWait         = 30 * time.Second
	DefaultCloseWait        = 120 * time.Second
	DefaultCacheSweepAge    = 10 * time.Minute
	DefaultMaxPositionRatio = 1.0
	DefaultMaxDailyLoss     = 5_000_000
	DefaultLeverage         = 1.0
)

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ACCOUNTS_CONFIG carries the accounts blob.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if blob := os.Getenv("ACCOUNTS_CONFIG"); blob != "" {
		cfg.AccountsJSON = blob
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Executor.FillWait == 0 {
		c.Executor.FillWait = DefaultFillWait
	}
	if c.Executor.CloseWait == 0 {
		c.Executor.CloseWait = DefaultCloseWait
	}
	if c.Broker.CacheSweepAge == 0 {
		c.Broker.CacheSweepAge = DefaultCacheSweepAge
	}
	for i := range c.Strategies {
		s := &c.Strategies[i]
		if s.MaxPositionRatio == 0 {
			s.MaxPositionRatio = DefaultMaxPositionRatio
		}
		if s.MaxDailyLoss == 0 {
			s.MaxDailyLoss = DefaultMaxDailyLoss
		}
		if s.Leverage == 0 {
			s.Leverage = DefaultLeverage
		}
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	for _, s := range c.Strategies {
		if s.AccountID == "" {
			return fmt.Errorf("strategy %q: account_id is required", s.Name)
		}
		if s.MaxPositionRatio <= 0 || s.MaxPositionRatio > 1 {
			return fmt.Errorf("strategy %q: max_position_ratio must be in (0, 1]", s.Name)
		}
		if s.MaxDailyLoss <= 0 {
			return fmt.Errorf("strategy %q: max_daily_loss must be > 0", s.Name)
		}
		if s.Leverage <= 0 {
			return fmt.Errorf("strategy %q: leverage must be > 0", s.Name)
		}
	}
	return nil
}

// StrategiesFor returns every strategy attached to an account.
func (c *Config) StrategiesFor(accountID string) []StrategyConfig {
	var out []StrategyConfig
	for _, s := range c.Strategies {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	return out
}
