package token

import "testing"

func TestHashOpaqueHex_Modes(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := HashOpaqueHex("invite-token")
	if plain != HashSHA256Hex("invite-token") || len(plain) != 64 {
		t.Fatalf("sha mode mismatch: %q", plain)
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	keyed := HashOpaqueHex("invite-token")
	if keyed == plain {
		t.Fatalf("hmac mode should differ from sha mode")
	}
	if !HMACEnabled() {
		t.Fatalf("HMACEnabled()=false want=true")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("err=%v want=%v", err, ErrHMACKeyMissing)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("err=%v want=%v", err, ErrHMACKeyTooShort)
	}
}

func TestNewOpaque(t *testing.T) {
	t.Parallel()

	a, err := NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	b, _ := NewOpaque(32)
	if len(a) != 43 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
