// Package config loads service settings from environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Run modes. Local mode keeps verbose request logging; docker mode
// switches the HTTP engine to release logging.
const (
	ModeLocal  = "local"
	ModeDocker = "docker"
)

// Config holds the service settings.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string
	// Mode is either "local" or "docker".
	Mode string
	// LogLevel enables debug logging when set to "debug".
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; a missing file is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("OMR_PORT", "8080"),
		Mode:     getEnv("OMR_MODE", ModeLocal),
		LogLevel: os.Getenv("OMR_LOG_LEVEL"),
	}

	if cfg.Mode != ModeLocal && cfg.Mode != ModeDocker {
		return nil, fmt.Errorf("OMR_MODE must be %q or %q, got %q", ModeLocal, ModeDocker, cfg.Mode)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("OMR_PORT must be an integer: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
