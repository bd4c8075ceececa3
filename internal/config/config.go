package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	DBPath    string
	JWTSecret string
	Port      string

	// Client-side tunables, read by cmd/console.
	RelayURL    string
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxAttempts int
	AckTimeout  time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		DBPath:      getEnv("LIFELINE_DB", "lifeline.db"),
		JWTSecret:   getEnv("LIFELINE_JWT_SECRET", "dev-secret"),
		Port:        getEnv("PORT", "8080"),
		RelayURL:    getEnv("LIFELINE_RELAY_URL", "ws://localhost:8080/ws"),
		BackoffBase: getDuration("LIFELINE_BACKOFF_BASE", 2*time.Second),
		BackoffMax:  getDuration("LIFELINE_BACKOFF_MAX", 30*time.Second),
		MaxAttempts: getInt("LIFELINE_MAX_ATTEMPTS", 5),
		AckTimeout:  getDuration("LIFELINE_ACK_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}
