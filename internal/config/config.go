package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	// Agent runtime
	RuntimeBaseURL string
	RuntimeToken   string
	RuntimeTimeout time.Duration

	// Policy
	PolicyCountBlocked bool          // blocked attempts consume rate budget
	RateWindow         time.Duration // per-agreement request window
	CostWindow         time.Duration // per-agreement cost window

	// Pricing (USD per token, applied to runtime usage)
	CostPerInputToken  float64
	CostPerOutputToken float64

	// Edge rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/fedgate.db"),

		RuntimeBaseURL: os.Getenv("RUNTIME_BASE_URL"),
		RuntimeToken:   os.Getenv("RUNTIME_TOKEN"),
		RuntimeTimeout: getDuration("RUNTIME_TIMEOUT", 60*time.Second),

		PolicyCountBlocked: getEnv("POLICY_COUNT_BLOCKED", "false") == "true",
		RateWindow:         getDuration("POLICY_RATE_WINDOW", time.Hour),
		CostWindow:         getDuration("POLICY_COST_WINDOW", 24*time.Hour),

		CostPerInputToken:  getFloat("COST_PER_INPUT_TOKEN", 0.000003),
		CostPerOutputToken: getFloat("COST_PER_OUTPUT_TOKEN", 0.000015),

		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require external services
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.RuntimeBaseURL == "" {
			panic("RUNTIME_BASE_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
