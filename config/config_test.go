package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "troubadour.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, time.Hour, cfg.Rate.Window)
	assert.Equal(t, 5*time.Minute, cfg.Rate.SweepEvery)
	assert.Equal(t, 5, cfg.Rate.FreeMax)
	assert.Equal(t, 30, cfg.Rate.ArtistMax)
	assert.Equal(t, 120, cfg.Rate.ProMax)
	assert.Equal(t, time.Minute, cfg.Cache.TierTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.BenchmarkTTL)
	assert.InDelta(t, 0.6, cfg.Jobs.ChurnThreshold, 1e-9)
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9090"
database:
  driver: sqlite
  dsn: ":memory:"
rate:
  window: 30m
  free_max: 2
  backend: redis
redis:
  addr: "redis:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 30*time.Minute, cfg.Rate.Window)
	assert.Equal(t, 2, cfg.Rate.FreeMax)
	assert.Equal(t, 30, cfg.Rate.ArtistMax, "campos ausentes mantêm o padrão")
	assert.Equal(t, "redis", cfg.Rate.Backend)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "rate:\n  free_max: 2\n")
	t.Setenv("RATE_FREE_MAX", "7")
	t.Setenv("RATE_WINDOW", "15m")
	t.Setenv("PUBLIC_RPS", "0.5")
	t.Setenv("RATE_STATS_ENABLED", "false")
	t.Setenv("CHURN_THRESHOLD", "0.75")
	t.Setenv("ADMIN_TOKEN", "adm-123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Rate.FreeMax)
	assert.Equal(t, 15*time.Minute, cfg.Rate.Window)
	assert.InDelta(t, 0.5, cfg.Public.RPS, 1e-9)
	assert.Equal(t, "off", cfg.Rate.Stats)
	assert.InDelta(t, 0.75, cfg.Jobs.ChurnThreshold, 1e-9)
	assert.Equal(t, "adm-123", cfg.Admin.Token)
}

func TestLoad_InvalidEnvKeepsCurrentValue(t *testing.T) {
	t.Setenv("RATE_FREE_MAX", "lots")
	t.Setenv("RATE_WINDOW", "forever")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Rate.FreeMax)
	assert.Equal(t, time.Hour, cfg.Rate.Window)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "rate: [unterminated"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"zero window", func(c *Config) { c.Rate.Window = 0 }, "RATE_WINDOW"},
		{"negative quota", func(c *Config) { c.Rate.ProMax = -1 }, "quotas"},
		{"unknown backend", func(c *Config) { c.Rate.Backend = "etcd" }, "RATE_BACKEND"},
		{"unknown stats", func(c *Config) { c.Rate.Stats = "prometheus" }, "RATE_STATS"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "DATABASE_DRIVER"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }, "DATABASE_DSN"},
		{"redis without addr", func(c *Config) { c.Rate.Stats = "redis"; c.Redis.Addr = " " }, "REDIS_ADDR"},
		{"zero rps", func(c *Config) { c.Public.RPS = 0 }, "PUBLIC_RPS"},
		{"zero burst", func(c *Config) { c.Public.Burst = 0 }, "PUBLIC_BURST"},
		{"negative concurrency", func(c *Config) { c.Concurrency.Max = -1 }, "CONCURRENCY_MAX"},
		{"threshold above one", func(c *Config) { c.Jobs.ChurnThreshold = 1.5 }, "CHURN_THRESHOLD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	require.NoError(t, Default().Validate())
}

func TestYAML_MasksPassword(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "s3cret"
	cfg.Admin.Token = "adm-123"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "s3cret")
	assert.NotContains(t, string(out), "adm-123")
	assert.Contains(t, string(out), "***")
	assert.Equal(t, "s3cret", cfg.Redis.Password, "YAML() não altera a config")
}
