package authapi

import (
	"crypto/rand"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig reports an unusable API configuration.
var ErrConfig = errors.New("authapi: invalid config")

const minSecretBytes = 32

// Config controls the identity API.
type Config struct {
	Issuer    string
	Secret    []byte
	Ephemeral bool // Secret was generated at startup; tokens die with the process.
	AccessTTL time.Duration

	InviteTTL    time.Duration
	InviteMaxTTL time.Duration

	TrustProxy   bool
	MaxBodyBytes int64

	LoginRateMax    int
	LoginRateWindow time.Duration

	CORSOrigins []string
}

// LoadConfigFromEnv loads API config from AQUALENS_API_* variables.
// Without AQUALENS_API_JWT_SECRET a random secret is generated.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Issuer:          envString("AQUALENS_API_ISSUER", "aqualens"),
		AccessTTL:       envDuration("AQUALENS_API_ACCESS_TTL", 12*time.Hour),
		InviteTTL:       envDuration("AQUALENS_API_INVITE_TTL", 7*24*time.Hour),
		InviteMaxTTL:    envDuration("AQUALENS_API_INVITE_TTL_MAX", 30*24*time.Hour),
		TrustProxy:      envBool("AQUALENS_API_TRUST_PROXY", false),
		MaxBodyBytes:    envInt64("AQUALENS_API_MAX_BODY_BYTES", 64<<10),
		LoginRateMax:    envInt("AQUALENS_API_LOGIN_RATE_MAX", 10),
		LoginRateWindow: envDuration("AQUALENS_API_LOGIN_RATE_WINDOW", time.Minute),
		CORSOrigins:     envList("AQUALENS_API_CORS_ORIGINS", []string{"http://localhost:5173"}),
	}

	if cfg.InviteTTL > cfg.InviteMaxTTL {
		cfg.InviteTTL = cfg.InviteMaxTTL
	}

	if raw := strings.TrimSpace(os.Getenv("AQUALENS_API_JWT_SECRET")); raw != "" {
		if len(raw) < minSecretBytes {
			return Config{}, errors.Join(ErrConfig, errors.New("AQUALENS_API_JWT_SECRET must be at least 32 bytes"))
		}
		cfg.Secret = []byte(raw)
		return cfg, nil
	}

	cfg.Secret = make([]byte, minSecretBytes)
	if _, err := rand.Read(cfg.Secret); err != nil {
		return Config{}, err
	}
	cfg.Ephemeral = true
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
