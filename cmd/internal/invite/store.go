package invite

import (
	"context"
	"time"
)

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	Invite
	TokenHash string
}

// ConsumeRecord describes a token redemption.
type ConsumeRecord struct {
	TokenHash  string
	EmailNorm  string
	ConsumedBy string
	Now        time.Time
}

// Store is the persistence boundary for invites.
//
// Consume must check the invite state and the email and mark it used in one
// atomic step. It fails with ErrNotFound, an InactiveError or ErrEmailMismatch.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
	Revoke(ctx context.Context, id string, now time.Time) error
}
