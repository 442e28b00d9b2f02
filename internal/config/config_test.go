package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
server:
  port: 9090
  allowed_origins:
    - https://dash.example.com
broker:
  real_base_url: http://localhost:19443
executor:
  fill_wait: 45s
strategies:
  - name: trend
    account_id: fut1
    max_position_ratio: 0.5
    is_active: true
  - name: meanrev
    account_id: fut1
    max_daily_loss: 2000000
    is_active: true
  - name: momentum
    account_id: stk1
    is_active: false
store:
  data_dir: /tmp/router-data
logging:
  level: debug
  format: json
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Broker.RealBaseURL != "http://localhost:19443" {
		t.Errorf("real base url = %q", cfg.Broker.RealBaseURL)
	}
	if cfg.Executor.FillWait != 45*time.Second {
		t.Errorf("fill wait = %s, want 45s", cfg.Executor.FillWait)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}

	// Defaults fill unset fields.
	if cfg.Executor.CloseWait != DefaultCloseWait {
		t.Errorf("close wait = %s, want default %s", cfg.Executor.CloseWait, DefaultCloseWait)
	}
	if cfg.Broker.CacheSweepAge != DefaultCacheSweepAge {
		t.Errorf("cache sweep age = %s, want default %s", cfg.Broker.CacheSweepAge, DefaultCacheSweepAge)
	}

	// Per-strategy defaults are independent.
	trend := cfg.Strategies[0]
	if trend.MaxPositionRatio != 0.5 {
		t.Errorf("trend ratio = %v, want 0.5", trend.MaxPositionRatio)
	}
	if trend.MaxDailyLoss != DefaultMaxDailyLoss {
		t.Errorf("trend loss = %v, want default", trend.MaxDailyLoss)
	}
	if trend.Leverage != DefaultLeverage {
		t.Errorf("trend leverage = %v, want default", trend.Leverage)
	}
	meanrev := cfg.Strategies[1]
	if meanrev.MaxPositionRatio != DefaultMaxPositionRatio {
		t.Errorf("meanrev ratio = %v, want default", meanrev.MaxPositionRatio)
	}
	if meanrev.MaxDailyLoss != 2_000_000 {
		t.Errorf("meanrev loss = %v, want 2000000", meanrev.MaxDailyLoss)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadAccountsFromEnv(t *testing.T) {
	t.Setenv("ACCOUNTS_CONFIG", `[{"id":"env-acc"}]`)
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccountsJSON != `[{"id":"env-acc"}]` {
		t.Errorf("accounts json = %q, want the env override", cfg.AccountsJSON)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080},
			Store:  StoreConfig{DataDir: "/tmp/x"},
			Strategies: []StrategyConfig{
				{Name: "s", AccountID: "a", MaxPositionRatio: 0.5, MaxDailyLoss: 1, Leverage: 1},
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"missing data dir", func(c *Config) { c.Store.DataDir = "" }},
		{"strategy without account", func(c *Config) { c.Strategies[0].AccountID = "" }},
		{"ratio above one", func(c *Config) { c.Strategies[0].MaxPositionRatio = 1.5 }},
		{"zero loss budget", func(c *Config) { c.Strategies[0].MaxDailyLoss = 0 }},
		{"negative leverage", func(c *Config) { c.Strategies[0].Leverage = -1 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestStrategiesFor(t *testing.T) {
	t.Parallel()

	cfg := &Config{Strategies: []StrategyConfig{
		{Name: "a", AccountID: "fut1"},
		{Name: "b", AccountID: "stk1"},
		{Name: "c", AccountID: "fut1"},
	}}

	got := cfg.StrategiesFor("fut1")
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("StrategiesFor(fut1) = %+v, want strategies a and c", got)
	}
	if got := cfg.StrategiesFor("none"); got != nil {
		t.Errorf("StrategiesFor(none) = %+v, want nil", got)
	}
}
