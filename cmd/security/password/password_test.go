package password

import (
	"errors"
	"strings"
	"testing"
)

func cheapConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	h, err := cfg.Hash("turbidity sensor 42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,") {
		t.Fatalf("unexpected encoding: %q", h)
	}

	ok, err := cfg.Verify(h, "turbidity sensor 42")
	if err != nil || !ok {
		t.Fatalf("Verify ok=%v err=%v want match", ok, err)
	}

	ok, err = cfg.Verify(h, "wrong password")
	if err != nil || ok {
		t.Fatalf("Verify ok=%v err=%v want mismatch", ok, err)
	}
}

func TestVerify_RejectsExpensiveHash(t *testing.T) {
	t.Parallel()

	strong := cheapConfig()
	strong.Params.Iterations = 5
	h, err := strong.Hash("turbidity sensor 42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if _, err := cheapConfig().Verify(h, "turbidity sensor 42"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("err=%v want ErrInvalidHash", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"not-a-hash", "$argon2i$v=19$m=1,t=1,p=1$aa$bb", "$argon2id$v=19$m=0,t=1,p=1$aa$bb"} {
		ok, err := cheapConfig().Verify(in, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) ok=%v err=%v", in, ok, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16
	cfg.Policy.RejectVeryWeak = true

	cases := []struct {
		in   string
		want error
	}{
		{in: "short", want: ErrPasswordTooShort},
		{in: "this password is definitely too long", want: ErrPasswordTooLong},
		{in: "password", want: ErrWeakPassword},
		{in: "11111111", want: ErrWeakPassword},
		{in: "zzzzzzzzz", want: ErrWeakPassword},
		{in: "a-very-ok-pass", want: nil},
	}

	for _, tc := range cases {
		if got := cfg.Validate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("Validate(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}
