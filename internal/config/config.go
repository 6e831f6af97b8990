package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port               string
	DatabaseURL        string
	RedisURL           string
	SchedulerToken     string
	FCMCredentialsFile string

	FetchLimit     int
	SweepLimit     int
	Concurrency    int
	ClaimStaleness time.Duration
	GatewayTimeout time.Duration
	TokenCacheTTL  time.Duration

	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	DefaultMaxRetries int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		SchedulerToken:     getEnv("SCHEDULER_TOKEN", ""),
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),

		FetchLimit:     getEnvInt("QUEUE_FETCH_LIMIT", 100),
		SweepLimit:     getEnvInt("QUEUE_SWEEP_LIMIT", 100),
		Concurrency:    getEnvInt("QUEUE_CONCURRENCY", 8),
		ClaimStaleness: getEnvDuration("CLAIM_STALENESS", 10*time.Minute),
		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		TokenCacheTTL:  getEnvDuration("TOKEN_CACHE_TTL", 5*time.Minute),

		BackoffBase:       getEnvDuration("BACKOFF_BASE", 5*time.Minute),
		BackoffMultiplier: getEnvFloat("BACKOFF_MULTIPLIER", 3.0),
		BackoffMax:        getEnvDuration("BACKOFF_MAX", 6*time.Hour),
		DefaultMaxRetries: getEnvInt("DEFAULT_MAX_RETRIES", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.SchedulerToken == "" {
		return nil, fmt.Errorf("SCHEDULER_TOKEN is required")
	}
	if cfg.BackoffMultiplier <= 1 {
		return nil, fmt.Errorf("BACKOFF_MULTIPLIER must be greater than 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
