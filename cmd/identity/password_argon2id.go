package identity

import (
	"errors"

	"aqualens/cmd/security/password"
)

// HashPassword returns a PHC-style Argon2id hash using the security/password
// config loaded from the environment.
func HashPassword(plain string) (string, error) {
	const op = "identity.HashPassword"

	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}

	enc, err := cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
		default:
			return "", err
		}
	}
	return enc, nil
}

// VerifyPassword checks plain against a PHC Argon2id hash.
func VerifyPassword(plain, encodedPHC string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, err
	}
	return cfg.Verify(encodedPHC, plain)
}
