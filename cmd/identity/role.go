package identity

import (
	"fmt"
	"strings"
)

// Role is the closed set of dashboard roles. Unknown values never parse.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleScientist       Role = "scientist"
	RoleResearcher      Role = "researcher"
	RolePolicymaker     Role = "policymaker"
	RoleFieldTechnician Role = "field_technician"
)

// Roles lists every valid role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleScientist, RoleResearcher, RolePolicymaker, RoleFieldTechnician}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleScientist, RoleResearcher, RolePolicymaker, RoleFieldTechnician:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// ParseRole accepts the wire form of a role, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", OpError{Op: "identity.ParseRole", Kind: ErrInvalidInput, Msg: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// UnmarshalText rejects unknown roles so a decoded record always carries a valid one.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) { return []byte(r), nil }
