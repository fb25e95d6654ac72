package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a valid Config for testing
func newTestConfig() Config {
	var c Config
	c.API = APIConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		MaxBodyBytes: 1 << 20,
		RateLimit:    RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
	c.Logging.Level = "info"
	c.Snippets.CacheSize = 100
	c.Storage.SQLite = SQLiteConfig{Enabled: true, Path: "data/gatekeeper.db"}
	c.Redis = RedisConfig{Enabled: true, Addr: "localhost:6379"}
	c.Ingest.MaxPayloadBytes = 1 << 20
	return c
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", config.API.Host)
	assert.Equal(t, 8090, config.API.Port)
	assert.Equal(t, int64(10*1024*1024), config.API.MaxBodyBytes)
	assert.Equal(t, 100.0, config.API.RateLimit.RequestsPerSecond)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, 1000, config.Snippets.CacheSize)
	assert.True(t, config.Storage.SQLite.Enabled)
	assert.False(t, config.Redis.Enabled)
	assert.Equal(t, "us-east-1", config.Ingest.S3.Region)
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  port: 9191
  rate_limit:
    burst: 5
logging:
  level: debug
batch:
  workers: 3
redis:
  enabled: true
  addr: redis:6380
`), 0o600))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, config.API.Port)
	assert.Equal(t, 5, config.API.RateLimit.Burst)
	assert.Equal(t, 100.0, config.API.RateLimit.RequestsPerSecond, "unset keys keep defaults")
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 3, config.Batch.Workers)
	assert.Equal(t, "redis:6380", config.Redis.Addr)
	assert.Equal(t, "127.0.0.1:9191", APIConfig{Host: "127.0.0.1", Port: 9191}.Addr())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())
	t.Setenv("GATEKEEPER_API_PORT", "7070")
	t.Setenv("GATEKEEPER_STORAGE_SQLITE_ENABLED", "false")
	t.Setenv("GATEKEEPER_LOGGING_LEVEL", "warn")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7070, config.API.Port)
	assert.False(t, config.Storage.SQLite.Enabled)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	viper.Reset()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))

	_, err := LoadConfigFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "port too large", mutate: func(c *Config) { c.API.Port = 99999 }, wantErr: true},
		{name: "port zero", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "no body limit", mutate: func(c *Config) { c.API.MaxBodyBytes = 0 }, wantErr: true},
		{name: "zero burst", mutate: func(c *Config) { c.API.RateLimit.Burst = 0 }, wantErr: true},
		{name: "upper case level", mutate: func(c *Config) { c.Logging.Level = "DEBUG" }},
		{name: "unknown level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.Batch.Workers = -1 }, wantErr: true},
		{name: "zero cache", mutate: func(c *Config) { c.Snippets.CacheSize = 0 }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.SQLite.Path = "" }, wantErr: true},
		{name: "sqlite disabled without path", mutate: func(c *Config) {
			c.Storage.SQLite = SQLiteConfig{}
		}},
		{name: "redis addr without port", mutate: func(c *Config) { c.Redis.Addr = "localhost" }, wantErr: true},
		{name: "redis db out of range", mutate: func(c *Config) { c.Redis.DB = 16 }, wantErr: true},
		{name: "redis disabled ignores addr", mutate: func(c *Config) { c.Redis = RedisConfig{} }},
		{name: "no payload limit", mutate: func(c *Config) { c.Ingest.MaxPayloadBytes = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig()
			tt.mutate(&c)
			err := validate(&c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
