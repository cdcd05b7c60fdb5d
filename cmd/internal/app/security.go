package app

import (
	"errors"

	"aqualens/cmd/security/token"
)

// ValidateSecurityConfig refuses to start when the token policy asks for
// HMAC digests of invite tokens but the key is unusable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes; 32 bytes matches the SHA-256 block size.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: AQUALENS_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: AQUALENS_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: AQUALENS_REQUIRE_TOKEN_HMAC=true but token hashing is not in HMAC mode")
	}
	return nil
}
