// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob the indexer reads at boot.
type Config struct {
	UpstreamBaseURL string
	WebSocketURL    string
	DatabaseURL     string
	CacheURL        string // Redis DSN for the leaderboard cache; empty selects the in-process cache
	Port            string
	LogLevel        string

	UseHybridMode         bool
	PollIntervalMs        int
	BackfillDays          int
	FundingPollIntervalMs int

	AdminJWTSecret  string
	OTelServiceName string
}

// Load reads .env (if present) then the process environment, applying defaults
// for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	pollMs, err := getEnvInt("POLL_INTERVAL_MS", 300_000)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	backfillDays, err := getEnvInt("BACKFILL_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	fundingPollMs, err := getEnvInt("FUNDING_POLL_INTERVAL_MS", 300_000)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	hybrid, err := getEnvBool("USE_HYBRID_MODE", true)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		UpstreamBaseURL:       getEnv("UPSTREAM_BASE_URL", "https://api.hyperliquid.xyz"),
		WebSocketURL:          getEnv("WEBSOCKET_URL", "wss://api.hyperliquid.xyz/ws"),
		DatabaseURL:           getEnv("DATABASE_URL", "host=localhost port=5432 user=postgres password=postgres dbname=pnl_indexer sslmode=disable"),
		CacheURL:              getEnv("CACHE_URL", ""),
		Port:                  getEnv("PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "INFO"),
		UseHybridMode:         hybrid,
		PollIntervalMs:        pollMs,
		BackfillDays:          backfillDays,
		FundingPollIntervalMs: fundingPollMs,
		AdminJWTSecret:        getEnv("ADMIN_JWT_SECRET", "pnl-indexer-admin-secret"),
		OTelServiceName:       getEnv("OTEL_SERVICE_NAME", "pnl-indexer"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("config: UPSTREAM_BASE_URL must not be empty")
	}
	if c.WebSocketURL == "" {
		return fmt.Errorf("config: WEBSOCKET_URL must not be empty")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL_MS must be positive, got %d", c.PollIntervalMs)
	}
	if c.BackfillDays <= 0 {
		return fmt.Errorf("config: BACKFILL_DAYS must be positive, got %d", c.BackfillDays)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid bool %q: %w", key, raw, err)
	}
	return v, nil
}
