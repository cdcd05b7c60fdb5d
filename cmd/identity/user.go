package identity

import (
	"strings"
	"time"
)

// UserRecord is the authenticated identity as returned by the identity API.
type UserRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the fields every persisted record must carry.
func (u UserRecord) Validate() error {
	const op = "identity.UserRecord.Validate"

	if strings.TrimSpace(u.ID) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}
	if strings.TrimSpace(u.Email) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing email"}
	}
	if !u.Role.Valid() {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid role"}
	}
	return nil
}
