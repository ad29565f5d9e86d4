package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MIRADOR_FORECAST_"

// Config captures the settings required to boot the forecast gateway.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Clients ClientsConfig `yaml:"clients"`
	Logging LoggingConfig `yaml:"logging"`
	Ratings RatingsConfig `yaml:"ratings"`
	Cache   CacheConfig   `yaml:"cache"`
	Health  HealthConfig  `yaml:"health"`
}

// ServerConfig controls the HTTP, gRPC health and metrics listeners.
type ServerConfig struct {
	Address         string          `yaml:"address"`
	GRPCAddress     string          `yaml:"grpcAddress"`
	MetricsAddress  string          `yaml:"metricsAddress"`
	GracefulTimeout time.Duration   `yaml:"gracefulTimeout"`
	Mode            string          `yaml:"mode"`
	AllowedOrigins  []string        `yaml:"allowedOrigins"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig is a per-client token bucket. Zero requestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// ClientsConfig groups upstream integrations.
type ClientsConfig struct {
	Predictions PredictionsClientConfig `yaml:"predictions"`
}

// PredictionsClientConfig configures access to the prediction service.
type PredictionsClientConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	MaxElapsed        time.Duration `yaml:"maxElapsed"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RatingsConfig points at an optional rating scheme overlay.
type RatingsConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the in-process response cache.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Size           int           `yaml:"size"`
	ListTTL        time.Duration `yaml:"listTTL"`
	LeaderboardTTL time.Duration `yaml:"leaderboardTTL"`
}

// HealthConfig controls the upstream health probe.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load initialises Config from a YAML file, a .env file and environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the gateway cannot start with.
func (c Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.GracefulTimeout <= 0 {
		return errors.New("server.gracefulTimeout must be positive")
	}
	if c.Clients.Predictions.MaxRetries < 0 {
		return errors.New("clients.predictions.maxRetries must not be negative")
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return errors.New("cache.size must be positive when the cache is enabled")
	}
	switch strings.ToLower(c.Server.Mode) {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode %q must be debug, release or test", c.Server.Mode)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			Mode:            "release",
			AllowedOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			RateLimit:       RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		},
		Clients: ClientsConfig{
			Predictions: PredictionsClientConfig{
				BaseURL:    "http://localhost:8000",
				Timeout:    5 * time.Second,
				MaxRetries: 2,
				MaxElapsed: 10 * time.Second,
				Burst:      10,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Ratings: RatingsConfig{Path: "configs/ratings.yaml"},
		Cache: CacheConfig{
			Enabled:        true,
			Size:           256,
			ListTTL:        5 * time.Second,
			LeaderboardTTL: 15 * time.Second,
		},
		Health: HealthConfig{Interval: 15 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := env("SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := env("GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := env("METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	envDuration("GRACEFUL_TIMEOUT", &cfg.Server.GracefulTimeout)
	if v := env("MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := env("ALLOWED_ORIGINS"); v != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	envFloat("RATE_LIMIT_RPS", &cfg.Server.RateLimit.RequestsPerSecond)
	envInt("RATE_LIMIT_BURST", &cfg.Server.RateLimit.Burst)

	if v := env("API_BASE_URL"); v != "" {
		cfg.Clients.Predictions.BaseURL = v
	}
	envDuration("API_TIMEOUT", &cfg.Clients.Predictions.Timeout)
	envInt("API_MAX_RETRIES", &cfg.Clients.Predictions.MaxRetries)
	envDuration("API_MAX_ELAPSED", &cfg.Clients.Predictions.MaxElapsed)
	envFloat("API_RPS", &cfg.Clients.Predictions.RequestsPerSecond)
	envInt("API_BURST", &cfg.Clients.Predictions.Burst)

	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := env("RATINGS_PATH"); v != "" {
		cfg.Ratings.Path = v
	}

	if v := env("CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	envInt("CACHE_SIZE", &cfg.Cache.Size)
	envDuration("CACHE_LIST_TTL", &cfg.Cache.ListTTL)
	envDuration("CACHE_LEADERBOARD_TTL", &cfg.Cache.LeaderboardTTL)
	envDuration("HEALTH_INTERVAL", &cfg.Health.Interval)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envDuration(key string, dst *time.Duration) {
	if v := env(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := env(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
