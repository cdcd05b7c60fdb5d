package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"aqualens/cmd/internal/auth/store"
)

// Store backends selectable with AQUALENS_STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// StoreBackend is the session storage origin shared by tabs and the
	// sync relay.
	StoreBackend string
	Namespace    string

	RedisURL string

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// SeedFile is a YAML list of accounts created at startup when missing.
	SeedFile string

	SyncEnabled bool

	// InviteMailLog logs invitation tokens instead of dropping them.
	InviteMailLog bool

	// If true, AQUALENS_TOKEN_HMAC_KEY must be set (>= 32 bytes) so invite
	// tokens are stored as HMAC digests.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("AQUALENS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("AQUALENS_LOG_LEVEL", "info"),
		LogFormat: EnvString("AQUALENS_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("AQUALENS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AQUALENS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("AQUALENS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AQUALENS_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("AQUALENS_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("AQUALENS_HTTP_MAX_HEADER_BYTES", 1<<20),

		StoreBackend: strings.ToLower(EnvString("AQUALENS_STORE_BACKEND", BackendMemory)),
		Namespace:    EnvString("AQUALENS_STORE_NAMESPACE", store.DefaultNamespace),

		RedisURL: EnvString("AQUALENS_REDIS_URL", ""),

		DatabaseURL: EnvString("AQUALENS_DATABASE_URL", ""),
		DBSchema:    EnvString("AQUALENS_DB_SCHEMA", "aqualens"),
		DBMaxConns:  EnvInt32("AQUALENS_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("AQUALENS_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("AQUALENS_READINESS_REQUIRE_DB", false),

		SeedFile: EnvString("AQUALENS_SEED_FILE", ""),

		SyncEnabled:   EnvBool("AQUALENS_SYNC_ENABLED", true),
		InviteMailLog: EnvBool("AQUALENS_INVITE_MAIL_LOG", false),

		RequireTokenHMAC: EnvBool("AQUALENS_REQUIRE_TOKEN_HMAC", false),
	}
}

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("app: invalid config")

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: AQUALENS_STORE_BACKEND=redis requires AQUALENS_REDIS_URL", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: AQUALENS_STORE_BACKEND=postgres requires AQUALENS_DATABASE_URL", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.StoreBackend)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}

	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		return fmt.Errorf("%w: AQUALENS_READINESS_REQUIRE_DB=true without AQUALENS_DATABASE_URL", ErrInvalidConfig)
	}
	return nil
}
