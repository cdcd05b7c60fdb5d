package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "AQUALENS_"

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the interactive-login baseline.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 12,
			MaxLength: 256,
		},
	}
}

type envSetter struct {
	key string
	set func(c *Config, raw string) error
}

var envSetters = []envSetter{
	{"PASSWORD_MIN_LEN", func(c *Config, raw string) (err error) {
		c.Policy.MinLength, err = parseIntRange(raw, 1, 1024)
		return err
	}},
	{"PASSWORD_MAX_LEN", func(c *Config, raw string) (err error) {
		c.Policy.MaxLength, err = parseIntRange(raw, 1, 4096)
		return err
	}},
	{"PASSWORD_REJECT_VERY_WEAK", func(c *Config, raw string) (err error) {
		c.Policy.RejectVeryWeak, err = strconv.ParseBool(strings.TrimSpace(raw))
		return err
	}},
	{"ARGON2_MEMORY_KIB", func(c *Config, raw string) (err error) {
		c.Params.MemoryKiB, err = parseU32Range(raw, 8*1024, 1024*1024)
		return err
	}},
	{"ARGON2_ITERATIONS", func(c *Config, raw string) (err error) {
		c.Params.Iterations, err = parseU32Range(raw, 1, 20)
		return err
	}},
	{"ARGON2_PARALLELISM", func(c *Config, raw string) error {
		u, err := parseU32Range(raw, 1, math.MaxUint8)
		if err != nil {
			return err
		}
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"ARGON2_SALT_LEN", func(c *Config, raw string) (err error) {
		c.Params.SaltLength, err = parseU32Range(raw, 8, 64)
		return err
	}},
	{"ARGON2_KEY_LEN", func(c *Config, raw string) (err error) {
		c.Params.KeyLength, err = parseU32Range(raw, 16, 64)
		return err
	}},
}

// FromEnv loads DefaultConfig and applies AQUALENS_PASSWORD_* and
// AQUALENS_ARGON2_* overrides. Malformed values are errors, not silent defaults.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, s := range envSetters {
		raw, ok := os.LookupEnv(EnvPrefix + s.key)
		if !ok {
			continue
		}
		if err := s.set(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("%s%s: %w", EnvPrefix, s.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func parseIntRange(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}

func parseU32Range(s string, lo, hi uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < lo || u > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return u, nil
}
