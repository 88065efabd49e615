package attemptgate

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by FromEnv.
const (
	EnvNamespace     = "ATTEMPTGATE_NAMESPACE"
	EnvMaxAttempts   = "ATTEMPTGATE_MAX_ATTEMPTS"
	EnvWindow        = "ATTEMPTGATE_WINDOW"
	EnvBlockDuration = "ATTEMPTGATE_BLOCK_DURATION"
	EnvDir           = "ATTEMPTGATE_DIR"
	EnvRetention     = "ATTEMPTGATE_RETENTION"
)

// FromEnv builds a Config from the environment, loading a .env file
// first when one exists in the working directory. Unset variables keep
// their DefaultConfig values. Durations use Go syntax ("90s", "15m").
func FromEnv() (Config, error) {
	// A missing .env file is not an error; the process environment
	// still applies.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv(EnvNamespace); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv(EnvDir); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxAttempts, err)
		}
		cfg.MaxAttempts = n
	}
	if v := os.Getenv(EnvWindow); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvWindow, err)
		}
		cfg.Window = d
	}
	if v := os.Getenv(EnvBlockDuration); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvBlockDuration, err)
		}
		cfg.BlockDuration = d
	}
	if v := os.Getenv(EnvRetention); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvRetention, err)
		}
		cfg.Retention = d
	}

	return cfg, nil
}
