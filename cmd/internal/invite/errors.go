package invite

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("invite not found")
	ErrNotActive     = errors.New("invite not active")
	ErrEmailMismatch = errors.New("invite issued to a different email")
)

// Reason says why an invite is no longer usable.
type Reason string

const (
	ReasonExpired Reason = "expired"
	ReasonUsed    Reason = "used"
	ReasonRevoked Reason = "revoked"
)

// InactiveError wraps ErrNotActive with the reason.
type InactiveError struct {
	Reason Reason
}

func (e InactiveError) Error() string { return fmt.Sprintf("invite not active: %s", e.Reason) }

func (e InactiveError) Unwrap() error { return ErrNotActive }
