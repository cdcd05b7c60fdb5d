package realtime

import (
	"time"

	"aqualens/cmd/identity/ids"
)

// NewSessionID returns a ULID used as relay session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
