package authapi

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("AQUALENS_API_JWT_SECRET", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.Ephemeral || len(cfg.Secret) != minSecretBytes {
		t.Fatalf("expected an ephemeral %d-byte secret, got ephemeral=%v len=%d", minSecretBytes, cfg.Ephemeral, len(cfg.Secret))
	}
	if cfg.AccessTTL != 12*time.Hour {
		t.Fatalf("AccessTTL=%v", cfg.AccessTTL)
	}
	if cfg.Issuer != "aqualens" {
		t.Fatalf("Issuer=%q", cfg.Issuer)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("AQUALENS_API_JWT_SECRET", strings.Repeat("k", 40))
	t.Setenv("AQUALENS_API_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("AQUALENS_API_INVITE_TTL", "1000h")
	t.Setenv("AQUALENS_API_INVITE_TTL_MAX", "48h")
	t.Setenv("AQUALENS_API_LOGIN_RATE_MAX", "-3")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Ephemeral || string(cfg.Secret) != strings.Repeat("k", 40) {
		t.Fatalf("expected configured secret")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("CORSOrigins=%v", cfg.CORSOrigins)
	}
	if cfg.InviteTTL != 48*time.Hour {
		t.Fatalf("InviteTTL should be clamped to the max, got %v", cfg.InviteTTL)
	}
	if cfg.LoginRateMax != 10 {
		t.Fatalf("LoginRateMax should fall back to the default, got %d", cfg.LoginRateMax)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	t.Setenv("AQUALENS_API_JWT_SECRET", "short")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
