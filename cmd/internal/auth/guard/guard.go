// Package guard decides whether a session may enter a route.
//
// Check is the pure rule. Guard adds a route table on top of it so callers
// can ask about a path instead of a requirement. Nothing here performs IO or
// waits on session state; callers pass in whatever they already hold and
// must ask again on every navigation.
package guard

import (
	"fmt"
	"slices"
	"strings"

	"aqualens/cmd/identity"
)

// Access is the kind of restriction a route carries.
type Access uint8

const (
	// Public routes are open to everyone.
	Public Access = iota
	// Authenticated routes need any signed-in session.
	Authenticated
	// Roles routes need a signed-in session whose role is listed.
	Roles
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case Roles:
		return "roles"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// ParseAccess is the inverse of String.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return Public, nil
	case "authenticated":
		return Authenticated, nil
	case "roles":
		return Roles, nil
	default:
		return 0, fmt.Errorf("guard: unknown access %q", s)
	}
}

// Requirement is what a route demands.
type Requirement struct {
	Access Access
	Roles  []identity.Role
}

// Allows reports whether role is in the requirement's role set.
func (r Requirement) Allows(role identity.Role) bool {
	return slices.Contains(r.Roles, role)
}

// Verdict is the outcome of Check.
type Verdict uint8

const (
	Allow Verdict = iota
	RedirectToLogin
	RedirectToHome
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToHome:
		return "redirect_to_home"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Principal is the part of a session the guard looks at.
type Principal interface {
	SignedIn() bool
	AccessRole() identity.Role
}

// Check applies req to viewer.
//
// A signed-in viewer whose role is not allowed is sent home rather than
// refused outright. A Roles requirement with an empty role set admits no one.
func Check(viewer Principal, req Requirement) Verdict {
	if req.Access == Public {
		return Allow
	}
	if viewer == nil || !viewer.SignedIn() {
		return RedirectToLogin
	}
	if req.Access == Roles && !req.Allows(viewer.AccessRole()) {
		return RedirectToHome
	}
	return Allow
}
