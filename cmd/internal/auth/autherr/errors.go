// Package autherr is the closed error taxonomy shared by the session store,
// the gateway and the session controller.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidCredentials
	ValidationFailed
	NetworkUnreachable
	ServerError
	StorageUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	InvalidCredentials: "invalid_credentials",
	ValidationFailed:   "validation_failed",
	NetworkUnreachable: "network_unreachable",
	ServerError:        "server_error",
	StorageUnavailable: "storage_unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// UserMessage is the fixed, user-facing text for a kind.
func (k Kind) UserMessage() string {
	switch k {
	case InvalidCredentials:
		return "incorrect email or password"
	case ValidationFailed:
		return "invitation link is invalid or has expired"
	case NetworkUnreachable:
		return "check your connection"
	case StorageUnavailable:
		return "session could not be saved on this device"
	default:
		return "something went wrong, please try again later"
	}
}

// Error is a classified failure. Message is shown to users; Err is for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// New builds an Error carrying the kind's default user message.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: kind.UserMessage(), Err: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.UserMessage()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }
