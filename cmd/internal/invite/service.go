package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"aqualens/cmd/identity"
	"aqualens/cmd/identity/ids"
	"aqualens/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = 7 * 24 * time.Hour
	maxNoteLen        = 512
)

// Invite is an invitation for one email address to join with one role.
// Invites are single use.
type Invite struct {
	ID         string
	Email      string
	Role       identity.Role
	CreatedBy  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	Note       *string
	ConsumedAt *time.Time
	ConsumedBy *string
}

// State reports whether inv can be redeemed at now.
func (inv Invite) State(now time.Time) error {
	switch {
	case inv.RevokedAt != nil:
		return InactiveError{Reason: ReasonRevoked}
	case inv.ConsumedAt != nil:
		return InactiveError{Reason: ReasonUsed}
	case !inv.ExpiresAt.After(now):
		return InactiveError{Reason: ReasonExpired}
	}
	return nil
}

// CreateInput describes invite creation.
type CreateInput struct {
	Email     string
	Role      identity.Role
	CreatedBy *string
	TTL       time.Duration
	Note      *string
	Now       time.Time
}

// ConsumeInput describes invite redemption.
type ConsumeInput struct {
	Token      string
	Email      string
	ConsumedBy string
	Now        time.Time
}

// Service manages invite creation, validation, and consumption.
type Service struct {
	store      Store
	tokenBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, tokenBytes: defaultTokenBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite stores a new invite and returns it with its plain token.
// Only the token's hash is persisted.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") || !in.Role.Valid() {
		return Invite{}, "", ErrInvalidInput
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > maxNoteLen {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	plain, err := token.NewOpaque(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		Invite: Invite{
			ID:        id,
			Email:     email,
			Role:      in.Role,
			CreatedBy: trimPtr(in.CreatedBy),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			Note:      note,
		},
		TokenHash: token.HashOpaqueHex(plain),
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, plain, nil
}

// ValidateInvite returns the invite behind tok if it can still be redeemed.
// It fails with ErrNotFound or an InactiveError otherwise.
func (s *Service) ValidateInvite(ctx context.Context, tok string, now time.Time) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := s.store.GetByTokenHash(ctx, token.HashOpaqueHex(tok))
	if err != nil {
		return Invite{}, err
	}
	if err := inv.State(now); err != nil {
		return inv, err
	}
	return inv, nil
}

// ConsumeInvite redeems tok for in.Email. The check and the update are one
// atomic step in the store, so a token is redeemed at most once.
func (s *Service) ConsumeInvite(ctx context.Context, in ConsumeInput) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tok := strings.TrimSpace(in.Token)
	by := strings.TrimSpace(in.ConsumedBy)
	if tok == "" || by == "" || strings.TrimSpace(in.Email) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash:  token.HashOpaqueHex(tok),
		EmailNorm:  identity.NormalizeEmail(in.Email),
		ConsumedBy: by,
		Now:        in.Now,
	})
}

// RevokeInvite disables an invite by id. Revoking twice is not an error.
func (s *Service) RevokeInvite(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Revoke(ctx, id, now)
}

// IsGone reports whether err means the invite existed but can no longer be used.
func IsGone(err error) bool { return errors.Is(err, ErrNotActive) }

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
