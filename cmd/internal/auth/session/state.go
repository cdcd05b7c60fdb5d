package session

import (
	"aqualens/cmd/identity"
	"aqualens/cmd/internal/auth/autherr"
)

// State is the controller's tagged state. The variants are Anonymous,
// Authenticating, Authenticated and AuthFailed.
type State interface {
	Name() string
	sealed()
}

// Anonymous: no session.
type Anonymous struct{}

// Authenticating: a login, invitation or logout request is in flight.
type Authenticating struct {
	Op string
}

// Authenticated: a complete session is held and persisted.
type Authenticated struct {
	Token string
	User  identity.UserRecord
}

// AuthFailed: the last attempt failed; the tab holds no session.
type AuthFailed struct {
	Err *autherr.Error
}

func (Anonymous) Name() string      { return "anonymous" }
func (Authenticating) Name() string { return "authenticating" }
func (Authenticated) Name() string  { return "authenticated" }
func (AuthFailed) Name() string     { return "auth_failed" }

func (Anonymous) sealed()      {}
func (Authenticating) sealed() {}
func (Authenticated) sealed()  {}
func (AuthFailed) sealed()     {}

// Session is the read model consumed by the UI and the route guard.
// IsAuthenticated is derived from the state, never stored.
type Session struct {
	State           State
	IsAuthenticated bool
	User            *identity.UserRecord
	Role            identity.Role
	Error           string
	ErrorKind       autherr.Kind
	IsLoading       bool
}

func viewOf(st State) Session {
	s := Session{State: st}
	switch v := st.(type) {
	case Authenticating:
		s.IsLoading = true
	case Authenticated:
		if v.Token != "" {
			u := v.User
			s.IsAuthenticated = true
			s.User = &u
			s.Role = u.Role
		}
	case AuthFailed:
		if v.Err != nil {
			s.Error = v.Err.Message
			s.ErrorKind = v.Err.Kind
		}
	}
	return s
}

// SignedIn reports whether the session is authenticated.
func (s Session) SignedIn() bool { return s.IsAuthenticated }

// AccessRole is the role of the signed-in user, empty otherwise.
func (s Session) AccessRole() identity.Role { return s.Role }
