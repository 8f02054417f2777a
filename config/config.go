// Package config carrega a configuração do servidor: padrões, depois o
// arquivo YAML (opcional) e por cima as variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr  string            `yaml:"listen_addr"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Rate        RateConfig        `yaml:"rate"`
	Public      PublicConfig      `yaml:"public"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Redis       RedisConfig       `yaml:"redis"`
	Cache       CacheConfig       `yaml:"cache"`
	NATS        NATSConfig        `yaml:"nats"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Admin       AdminConfig       `yaml:"admin"`
}

// AdminConfig guarda o token das rotas internas (admin e callback do worker).
type AdminConfig struct {
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// RateConfig controla a janela deslizante das submissões de crítica.
type RateConfig struct {
	Window     time.Duration `yaml:"window"`
	SweepEvery time.Duration `yaml:"sweep_every"`
	FreeMax    int           `yaml:"free_max"`
	ArtistMax  int           `yaml:"artist_max"`
	ProMax     int           `yaml:"pro_max"`
	Backend    string        `yaml:"backend"` // memory, redis
	RetryAfter time.Duration `yaml:"retry_after"`
	AddHeaders bool          `yaml:"add_headers"`
	TrustXFF   bool          `yaml:"trust_xff"`
	Stats      string        `yaml:"stats"` // memory, redis, off
	TrackKeys  bool          `yaml:"track_keys"`
}

// PublicConfig é o token bucket por IP das rotas sem usuário.
type PublicConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ConcurrencyConfig struct {
	Max     int           `yaml:"max"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type CacheConfig struct {
	TierTTL      time.Duration `yaml:"tier_ttl"`
	BenchmarkTTL time.Duration `yaml:"benchmark_ttl"`
	SweepEvery   time.Duration `yaml:"sweep_every"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type JobsConfig struct {
	Period         time.Duration `yaml:"period"`
	DigestEvery    time.Duration `yaml:"digest_every"`
	ChurnEvery     time.Duration `yaml:"churn_every"`
	ChurnThreshold float64       `yaml:"churn_threshold"`
	ChurnRecipient string        `yaml:"churn_recipient"`
}

// Default devolve a configuração usada quando nada é informado.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Log:        LogConfig{Level: "info"},
		Database:   DatabaseConfig{Driver: "sqlite", DSN: "troubadour.db"},
		Rate: RateConfig{
			Window:     time.Hour,
			SweepEvery: 5 * time.Minute,
			FreeMax:    5,
			ArtistMax:  30,
			ProMax:     120,
			Backend:    "memory",
			RetryAfter: time.Second,
			AddHeaders: true,
			Stats:      "memory",
		},
		Public:      PublicConfig{RPS: 5, Burst: 20},
		Concurrency: ConcurrencyConfig{Max: 8, Timeout: 2 * time.Second},
		Redis:       RedisConfig{Addr: "localhost:6379", Prefix: "troubadour"},
		Cache: CacheConfig{
			TierTTL:      time.Minute,
			BenchmarkTTL: 10 * time.Minute,
			SweepEvery:   time.Minute,
		},
		NATS: NATSConfig{SubjectPrefix: "troubadour.notify"},
		Jobs: JobsConfig{
			Period:         7 * 24 * time.Hour,
			DigestEvery:    7 * 24 * time.Hour,
			ChurnEvery:     24 * time.Hour,
			ChurnThreshold: 0.6,
			ChurnRecipient: "ops",
		},
	}
}

// Load lê o arquivo (se path != ""), aplica o ambiente e valida.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envString(&c.ListenAddr, "LISTEN_ADDR")
	envString(&c.Log.Level, "LOG_LEVEL")

	envString(&c.Database.Driver, "DATABASE_DRIVER")
	envString(&c.Database.DSN, "DATABASE_DSN")

	envDuration(&c.Rate.Window, "RATE_WINDOW")
	envDuration(&c.Rate.SweepEvery, "RATE_SWEEP_EVERY")
	envInt(&c.Rate.FreeMax, "RATE_FREE_MAX")
	envInt(&c.Rate.ArtistMax, "RATE_ARTIST_MAX")
	envInt(&c.Rate.ProMax, "RATE_PRO_MAX")
	envString(&c.Rate.Backend, "RATE_BACKEND")
	envDuration(&c.Rate.RetryAfter, "RETRY_AFTER")
	envBool(&c.Rate.AddHeaders, "ADD_RATELIMIT_HEADERS")
	envBool(&c.Rate.TrustXFF, "TRUST_XFF")
	envString(&c.Rate.Stats, "RATE_STATS")
	// RATE_STATS_ENABLED=false é o atalho antigo para stats off
	if enabled := true; envBool(&enabled, "RATE_STATS_ENABLED") && !enabled {
		c.Rate.Stats = "off"
	}
	envBool(&c.Rate.TrackKeys, "RATE_STATS_TRACK_KEYS")

	envFloat(&c.Public.RPS, "PUBLIC_RPS")
	envInt(&c.Public.Burst, "PUBLIC_BURST")

	envInt(&c.Concurrency.Max, "CONCURRENCY_MAX")
	envDuration(&c.Concurrency.Timeout, "CONCURRENCY_TIMEOUT")

	envString(&c.Redis.Addr, "REDIS_ADDR")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")

	envDuration(&c.Cache.TierTTL, "CACHE_TTL")
	envDuration(&c.Cache.BenchmarkTTL, "BENCHMARK_TTL")

	envString(&c.NATS.URL, "NATS_URL")

	envDuration(&c.Jobs.DigestEvery, "DIGEST_EVERY")
	envDuration(&c.Jobs.ChurnEvery, "CHURN_EVERY")
	envFloat(&c.Jobs.ChurnThreshold, "CHURN_THRESHOLD")

	envString(&c.Admin.Token, "ADMIN_TOKEN")
}

// Validate rejeita combinações impossíveis.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required for postgres"))
	}
	if c.Rate.Window <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be > 0"))
	}
	if c.Rate.FreeMax < 0 || c.Rate.ArtistMax < 0 || c.Rate.ProMax < 0 {
		errs = append(errs, errors.New("tier quotas must be >= 0"))
	}
	switch c.Rate.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("RATE_BACKEND must be memory or redis, got %q", c.Rate.Backend))
	}
	switch c.Rate.Stats {
	case "memory", "redis", "off":
	default:
		errs = append(errs, fmt.Errorf("RATE_STATS must be memory, redis or off, got %q", c.Rate.Stats))
	}
	if c.UsesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when a redis backend is selected"))
	}
	if c.Public.RPS <= 0 {
		errs = append(errs, errors.New("PUBLIC_RPS must be > 0"))
	}
	if c.Public.Burst <= 0 {
		errs = append(errs, errors.New("PUBLIC_BURST must be > 0"))
	}
	if c.Concurrency.Max < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX must be >= 0"))
	}
	if c.Jobs.ChurnThreshold < 0 || c.Jobs.ChurnThreshold > 1 {
		errs = append(errs, errors.New("CHURN_THRESHOLD must be between 0 (alert off) and 1"))
	}
	return errors.Join(errs...)
}

// UsesRedis informa se algum componente precisa do Redis.
func (c Config) UsesRedis() bool {
	return c.Rate.Backend == "redis" || c.Rate.Stats == "redis"
}

// YAML devolve a configuração efetiva serializada (segredos mascarados).
func (c Config) YAML() ([]byte, error) {
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	if c.Admin.Token != "" {
		c.Admin.Token = "***"
	}
	return yaml.Marshal(c)
}
