package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port                     string `envconfig:"PORT" default:"8080"`
	AllowedOrigin            string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL              string `envconfig:"DATABASE_URL"`
	RedisAddr                string `envconfig:"REDIS_ADDR"`
	RedisPassword            string `envconfig:"REDIS_PASSWORD"`
	RedisDB                  int    `envconfig:"REDIS_DB" default:"0"`
	BranchID                 string `envconfig:"DEFAULT_BRANCH_ID" default:"main-branch"`
	AuthSecret               string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes    int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	AdminPassword            string `envconfig:"ADMIN_PASSWORD"`
	LogLevel                 string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat                string `envconfig:"LOG_FORMAT" default:"json"`
	DashboardCacheTTLSeconds int    `envconfig:"DASHBOARD_CACHE_TTL_SECONDS" default:"20"`
	DueTermDays              int    `envconfig:"DUE_TERM_DAYS" default:"30"`
	LockTTLSeconds           int    `envconfig:"LOCK_TTL_SECONDS" default:"10"`
	RateLimitPerMinute       int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"300"`
	Production               bool   `envconfig:"PRODUCTION" default:"false"`
}

// Load reads an optional .env file and then the process environment.
// Out-of-range numeric values fall back to their defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.AdminPassword = strings.TrimSpace(cfg.AdminPassword)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.DashboardCacheTTLSeconds < 1 {
		cfg.DashboardCacheTTLSeconds = 20
	}
	if cfg.DueTermDays < 1 {
		cfg.DueTermDays = 30
	}
	if cfg.LockTTLSeconds < 1 {
		cfg.LockTTLSeconds = 10
	}
	if cfg.RateLimitPerMinute < 1 {
		cfg.RateLimitPerMinute = 300
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) DashboardCacheTTL() time.Duration {
	return time.Duration(c.DashboardCacheTTLSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
