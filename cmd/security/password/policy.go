package password

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivialPasswords = []string{
	"password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111",
}

// Validate checks pw against the policy. Length counts runes.
func (c Config) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(pw):
		return ErrWeakPassword
	}
	return nil
}

func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}
	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}
	return slices.Contains(trivialPasswords, strings.ToLower(s))
}
