// Package config loads server configuration from the environment.
//
// All settings are 12-factor: read once at startup, never touched again.
// Required settings missing at boot cause a fatal, non-zero exit before
// the process accepts any traffic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every setting the server needs, loaded once at startup.
type Config struct {
	DatabaseURL string

	AcctBackend       string // "tb" or "pg"
	PaysessionBackend string // "redis" or "pg"

	TBAddress   string
	TBClusterID string

	CapacityClassA int64
	CapacityClassB int64
	CapacityGoodie int64

	RedisURL     string
	RedisMaxConn int

	DBPoolSize    int
	DBMaxOverflow int
	DBPoolTimeout time.Duration
	DBGateLimit   int64

	MockSecret     string
	MockWebhookURL string

	ReservationTTL time.Duration

	SessionSecret string
	AdminUsername string
	AdminPassword string

	LogLevel  string
	LogFormat string

	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults where the
// spec allows one, and failing fast on missing required values.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		AcctBackend:       getEnv("ACCT_BACKEND", "pg"),
		PaysessionBackend: getEnv("PAYSESSION_BACKEND", "redis"),

		TBAddress:   getEnv("TB_ADDRESS", "localhost:4242"),
		TBClusterID: getEnv("TB_CLUSTER_ID", "0"),

		CapacityClassA: int64(getEnvInt("CAPACITY_CLASS_A", 1000)),
		CapacityClassB: int64(getEnvInt("CAPACITY_CLASS_B", 2000)),
		CapacityGoodie: int64(getEnvInt("CAPACITY_GOODIE", 500)),

		RedisURL:     getEnv("REDIS_URL", "localhost:6379"),
		RedisMaxConn: getEnvInt("REDIS_MAX_CONN", 50),

		DBPoolSize:    getEnvInt("DB_POOL_SIZE", 10),
		DBMaxOverflow: getEnvInt("DB_MAX_OVERFLOW", 5),
		DBPoolTimeout: getEnvDuration("DB_POOL_TIMEOUT", 30*time.Second),
		DBGateLimit:   int64(getEnvInt("DB_GATE_LIMIT", 15)),

		MockSecret:     getEnv("MOCK_SECRET", "dev-mock-secret"),
		MockWebhookURL: getEnv("MOCK_WEBHOOK_URL", ""),

		ReservationTTL: getEnvDuration("RESERVATION_TTL_SECONDS", 300*time.Second),

		SessionSecret: getEnv("SESSION_SECRET", "dev-session-secret"),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT_SECONDS", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AcctBackend != "tb" && cfg.AcctBackend != "pg" {
		return nil, fmt.Errorf("ACCT_BACKEND must be 'tb' or 'pg', got %q", cfg.AcctBackend)
	}
	if cfg.PaysessionBackend != "redis" && cfg.PaysessionBackend != "pg" {
		return nil, fmt.Errorf("PAYSESSION_BACKEND must be 'redis' or 'pg', got %q", cfg.PaysessionBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
