package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GATEKEEPER_API_PORT
const EnvPrefix = "GATEKEEPER"

// RateLimitConfig configures the API token bucket
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	Host         string          `mapstructure:"host"`
	Port         int             `mapstructure:"port"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// Addr returns host:port for the listener
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
}

// SQLiteConfig configures test run history
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RedisConfig configures the alert deduplicator
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// S3Config configures the client used for S3-mode execution results
type S3Config struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// Config holds all configuration for the gatekeeper service
type Config struct {
	API APIConfig `mapstructure:"api"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Batch struct {
		Workers int `mapstructure:"workers"` // 0 = GOMAXPROCS
	} `mapstructure:"batch"`

	Snippets struct {
		Path      string `mapstructure:"path"` // file or directory, empty = none preloaded
		CacheSize int    `mapstructure:"cache_size"`
	} `mapstructure:"snippets"`

	Storage struct {
		SQLite SQLiteConfig `mapstructure:"sqlite"`
	} `mapstructure:"storage"`

	Redis RedisConfig `mapstructure:"redis"`

	Ingest struct {
		S3              S3Config `mapstructure:"s3"`
		MaxPayloadBytes int64    `mapstructure:"max_payload_bytes"`
	} `mapstructure:"ingest"`
}

func setDefaults() {
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8090)
	viper.SetDefault("api.max_body_bytes", 10*1024*1024) // 10MB
	viper.SetDefault("api.rate_limit.requests_per_second", 100.0)
	viper.SetDefault("api.rate_limit.burst", 200)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("batch.workers", 0)

	viper.SetDefault("snippets.path", "")
	viper.SetDefault("snippets.cache_size", 1000)

	viper.SetDefault("storage.sqlite.enabled", true)
	viper.SetDefault("storage.sqlite.path", "data/gatekeeper.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.key_prefix", "gatekeeper:dedup:")

	viper.SetDefault("ingest.s3.region", "us-east-1")
	viper.SetDefault("ingest.s3.endpoint", "")
	viper.SetDefault("ingest.max_payload_bytes", 32*1024*1024) // 32MB
}

func loadFromEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// LoadConfig reads config.yaml from . or ./config, then applies env overrides.
// A missing file is not an error.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	return load()
}

// LoadConfigFile reads the given file instead of searching for config.yaml
func LoadConfigFile(path string) (*Config, error) {
	viper.SetConfigFile(path)
	return load()
}

func load() (*Config, error) {
	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validate(c *Config) error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("api.max_body_bytes must be positive")
	}
	if c.API.RateLimit.RequestsPerSecond <= 0 || c.API.RateLimit.Burst <= 0 {
		return fmt.Errorf("api.rate_limit requires positive requests_per_second and burst")
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("batch.workers cannot be negative")
	}
	if c.Snippets.CacheSize <= 0 {
		return fmt.Errorf("snippets.cache_size must be positive")
	}
	if c.Storage.SQLite.Enabled && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required when sqlite storage is enabled")
	}
	if c.Redis.Enabled {
		if _, _, err := net.SplitHostPort(c.Redis.Addr); err != nil {
			return fmt.Errorf("redis.addr must be host:port: %w", err)
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			return fmt.Errorf("redis.db must be between 0 and 15")
		}
	}
	if c.Ingest.MaxPayloadBytes <= 0 {
		return fmt.Errorf("ingest.max_payload_bytes must be positive")
	}
	return nil
}
