package authapi

import (
	"context"
	"log/slog"
	"time"

	"aqualens/cmd/identity"
)

// InvitationMessage is the payload for delivering an invitation link.
type InvitationMessage struct {
	InviteID  string
	Email     string
	Role      identity.Role
	Token     string
	ExpiresAt time.Time
}

// InviteMailer delivers invitations.
type InviteMailer interface {
	SendInvitation(ctx context.Context, msg InvitationMessage) error
}

// NoopInviteMailer drops every message. The creating admin still receives the
// token in the API response.
type NoopInviteMailer struct{}

func (NoopInviteMailer) SendInvitation(context.Context, InvitationMessage) error { return nil }

// LogInviteMailer logs invitations instead of mailing them, for local setups.
// The token is logged in full; never use it outside development.
type LogInviteMailer struct {
	Log *slog.Logger
}

func (m LogInviteMailer) SendInvitation(ctx context.Context, msg InvitationMessage) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "auth.invite.mail",
		"invite_id", msg.InviteID,
		"email", msg.Email,
		"role", msg.Role.String(),
		"token", msg.Token,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}
