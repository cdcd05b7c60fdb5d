package authapi

import (
	"time"

	"aqualens/cmd/identity"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type inviteCreateRequest struct {
	Email            string  `json:"email" validate:"required,email,max=254"`
	Role             string  `json:"role" validate:"required,oneof=admin scientist researcher policymaker field_technician"`
	ExpiresInSeconds int64   `json:"expires_in_seconds,omitempty" validate:"gte=0"`
	Note             *string `json:"note,omitempty" validate:"omitempty,max=512"`
}

type inviteAcceptRequest struct {
	Token    string `json:"token" validate:"required,min=16,max=512,printascii"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	Name     string `json:"name,omitempty" validate:"max=200"`
}

// sessionResponse is what the dashboard persists: the token and the user record.
type sessionResponse struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expiresAt"`
	User      identity.UserRecord `json:"user"`
}

type meResponse struct {
	User identity.UserRecord `json:"user"`
}

type inviteCreateResponse struct {
	InviteID    string        `json:"invite_id"`
	InviteToken string        `json:"invite_token"`
	Email       string        `json:"email"`
	Role        identity.Role `json:"role"`
	ExpiresAt   time.Time     `json:"expires_at"`
}
