package session

import (
	"os"
	"strings"
	"time"
)

// Config tunes the controller.
type Config struct {
	// LogoutTimeout bounds the best-effort remote logout. The local session is
	// cleared when it elapses.
	LogoutTimeout time.Duration
}

// DefaultConfig returns the defaults used when no environment overrides exist.
func DefaultConfig() Config {
	return Config{
		LogoutTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv reads AQUALENS_SESSION_LOGOUT_TIMEOUT (a Go duration).
// Returns ErrConfig if a value is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AQUALENS_SESSION_LOGOUT_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LogoutTimeout = d
	}

	return cfg, nil
}
