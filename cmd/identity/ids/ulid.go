// Package ids provides ULID generation for users, invitations and tabs.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites where the system clock and crypto/rand are
// assumed healthy (tab identifiers).
func MustULID() string {
	id, err := NewULID(time.Time{})
	if err != nil {
		panic(err)
	}
	return id
}
