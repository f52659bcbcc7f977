package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Market    MarketConfig    `json:"market" yaml:"market"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// MarketConfig points at the upstream exchange
type MarketConfig struct {
	BaseURL   string  `json:"base_url" yaml:"base_url"`
	Timeout   string  `json:"timeout" yaml:"timeout"`       // e.g. "5s"
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
}

type CacheConfig struct {
	FreshWindow string `json:"fresh_window" yaml:"fresh_window"`
	StaleBound  string `json:"stale_bound,omitempty" yaml:"stale_bound,omitempty"` // empty means 2x fresh_window
}

// LedgerConfig selects the balance store
type LedgerConfig struct {
	Store           string `json:"store" yaml:"store"` // "memory" or "sqlite"
	DBPath          string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	StartingBalance string `json:"starting_balance" yaml:"starting_balance"`
}

type BroadcastConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Symbol  string `json:"symbol" yaml:"symbol"`
	Topic   string `json:"topic" yaml:"topic"`
	Period  string `json:"period" yaml:"period"`
}

type AuthConfig struct {
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
	TTL    string `json:"ttl" yaml:"ttl"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// Environment variables that override file values.
const (
	EnvPort      = "PORT"
	EnvJWTSecret = "JWT_SECRET"
	EnvDBPath    = "PAPERTRADE_DB_PATH"
	EnvBaseURL   = "COINBASE_BASE_URL"
	EnvLogLevel  = "LOG_LEVEL"
)

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
// on top of Default, so omitted keys keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads path when it is non-empty, loads a .env file if present and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		c.Auth.Secret = v
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Ledger.Store = "sqlite"
		c.Ledger.DBPath = v
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Market.BaseURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file may hold the JWT secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if port := c.Server.Addr[strings.LastIndex(c.Server.Addr, ":")+1:]; port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("server.addr has invalid port %q", port)
		}
	}
	if c.Market.BaseURL == "" {
		return fmt.Errorf("market.base_url is required")
	}
	if c.Market.RateLimit < 0 {
		return fmt.Errorf("market.rate_limit must not be negative")
	}
	if _, err := positive("market.timeout", c.Market.Timeout); err != nil {
		return err
	}
	fresh, err := positive("cache.fresh_window", c.Cache.FreshWindow)
	if err != nil {
		return err
	}
	if c.Cache.StaleBound != "" {
		stale, err := positive("cache.stale_bound", c.Cache.StaleBound)
		if err != nil {
			return err
		}
		if stale < fresh {
			return fmt.Errorf("cache.stale_bound must be at least cache.fresh_window")
		}
	}
	if c.Ledger.Store != "memory" && c.Ledger.Store != "sqlite" {
		return fmt.Errorf("ledger.store must be 'memory' or 'sqlite'")
	}
	if c.Ledger.Store == "sqlite" && c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger db_path required for sqlite store")
	}
	if bal, err := decimal.NewFromString(c.Ledger.StartingBalance); err != nil || bal.IsNegative() {
		return fmt.Errorf("ledger.starting_balance must be a non-negative number")
	}
	if c.Broadcast.Symbol == "" {
		return fmt.Errorf("broadcast.symbol is required")
	}
	if c.Broadcast.Topic == "" {
		return fmt.Errorf("broadcast.topic is required")
	}
	if _, err := positive("broadcast.period", c.Broadcast.Period); err != nil {
		return err
	}
	if _, err := positive("auth.ttl", c.Auth.TTL); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

func positive(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// Durations. Call after Validate; unparsable values read as zero.

func (c MarketConfig) TimeoutDuration() time.Duration { return mustDuration(c.Timeout) }

func (c CacheConfig) FreshDuration() time.Duration { return mustDuration(c.FreshWindow) }

// StaleDuration is zero when no explicit bound is configured.
func (c CacheConfig) StaleDuration() time.Duration { return mustDuration(c.StaleBound) }

func (c BroadcastConfig) PeriodDuration() time.Duration { return mustDuration(c.Period) }

func (c AuthConfig) TTLDuration() time.Duration { return mustDuration(c.TTL) }

func (c LedgerConfig) StartingBalanceDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(c.StartingBalance)
	return d
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":4567",
		},
		Market: MarketConfig{
			BaseURL:   "https://api.exchange.coinbase.com",
			Timeout:   "5s",
			RateLimit: 10,
		},
		Cache: CacheConfig{
			FreshWindow: "5s",
		},
		Ledger: LedgerConfig{
			Store:           "memory",
			StartingBalance: "1000",
		},
		Broadcast: BroadcastConfig{
			Enabled: true,
			Symbol:  "BTC-USD",
			Topic:   "priceUpdate",
			Period:  "5s",
		},
		Auth: AuthConfig{
			TTL: "168h",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
