package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Poller   PollerConfig   `yaml:"poller"`
	Registry RegistryConfig `yaml:"registry"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type FeedsConfig struct {
	Crypto CryptoFeedConfig `yaml:"crypto"`
	Equity EquityFeedConfig `yaml:"equity"`
}

type CryptoFeedConfig struct {
	URL            string        `yaml:"url"`
	QuoteSuffix    string        `yaml:"quote_suffix"`
	ReconnectBase  time.Duration `yaml:"reconnect_base"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type EquityFeedConfig struct {
	URL            string        `yaml:"url"`
	QuoteURL       string        `yaml:"quote_url"`
	Token          string        `yaml:"-"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type PollerConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type RegistryConfig struct {
	CryptoCap       int           `yaml:"crypto_cap"`
	EquityCap       int           `yaml:"equity_cap"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type PipelineConfig struct {
	PersistInterval time.Duration `yaml:"persist_interval"`
	BucketLength    time.Duration `yaml:"bucket_length"`
}

type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// equityTokenEnvVar names the environment variable carrying the equities
// provider credential. Absence of the token is not an error; the equity feed
// simply never connects and the subsystem relies on polling alone.
const equityTokenEnvVar = "EQUITY_FEED_TOKEN"

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8090"},
		Feeds: FeedsConfig{
			Crypto: CryptoFeedConfig{
				URL:            "wss://stream.binance.com:9443/stream",
				QuoteSuffix:    "USDT",
				ReconnectBase:  2 * time.Second,
				ReconnectMax:   60 * time.Second,
				MaxAttempts:    8,
				ConnectTimeout: 10 * time.Second,
				KeepAlive:      20 * time.Second,
			},
			Equity: EquityFeedConfig{
				URL:            "wss://ws.finnhub.io",
				QuoteURL:       "https://financialmodelingprep.com/api/v3/quote",
				ReconnectDelay: 15 * time.Second,
				ConnectTimeout: 10 * time.Second,
				KeepAlive:      20 * time.Second,
			},
		},
		Poller: PollerConfig{
			Interval:          30 * time.Second,
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
			BurstSize:         2,
		},
		Registry: RegistryConfig{
			CryptoCap:       10,
			EquityCap:       50,
			RefreshInterval: 10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			PersistInterval: 5 * time.Second,
			BucketLength:    15 * time.Minute,
		},
		Cache: CacheConfig{
			Capacity: 1000,
			TTL:      10 * time.Minute,
		},
		Metrics: MetricsConfig{Addr: ":2112"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override secrets from environment variables if available
	if v := os.Getenv(equityTokenEnvVar); v != "" {
		config.Feeds.Equity.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		config.Database.DSN = strings.TrimSpace(v)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}

	if cfg.Service.Version == "" {
		return fmt.Errorf("service.version is required")
	}

	if cfg.Feeds.Crypto.URL == "" {
		return fmt.Errorf("feeds.crypto.url is required")
	}
	if cfg.Feeds.Crypto.ReconnectBase <= 0 {
		return fmt.Errorf("feeds.crypto.reconnect_base must be greater than 0")
	}
	if cfg.Feeds.Crypto.ReconnectMax < cfg.Feeds.Crypto.ReconnectBase {
		return fmt.Errorf("feeds.crypto.reconnect_max must not be below reconnect_base")
	}
	if cfg.Feeds.Crypto.MaxAttempts <= 0 {
		return fmt.Errorf("feeds.crypto.max_attempts must be greater than 0")
	}

	if cfg.Feeds.Equity.URL == "" {
		return fmt.Errorf("feeds.equity.url is required")
	}
	if cfg.Feeds.Equity.ReconnectDelay <= 0 {
		return fmt.Errorf("feeds.equity.reconnect_delay must be greater than 0")
	}

	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than 0")
	}

	if cfg.Registry.CryptoCap <= 0 || cfg.Registry.EquityCap <= 0 {
		return fmt.Errorf("registry caps must be greater than 0")
	}
	if cfg.Registry.CryptoCap > cfg.Registry.EquityCap {
		return fmt.Errorf("registry.crypto_cap must not exceed registry.equity_cap")
	}
	if cfg.Registry.RefreshInterval <= 0 {
		return fmt.Errorf("registry.refresh_interval must be greater than 0")
	}

	if cfg.Pipeline.PersistInterval <= 0 {
		return fmt.Errorf("pipeline.persist_interval must be greater than 0")
	}
	if cfg.Pipeline.BucketLength <= 0 {
		return fmt.Errorf("pipeline.bucket_length must be greater than 0")
	}

	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be greater than 0")
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than 0")
	}

	return nil
}
