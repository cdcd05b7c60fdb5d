package guard

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"aqualens/cmd/identity"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

// ErrInvalidTable wraps every table validation failure.
var ErrInvalidTable = errors.New("guard: invalid route table")

type fileRule struct {
	Prefix string   `yaml:"prefix"`
	Access string   `yaml:"access"`
	Roles  []string `yaml:"roles"`
}

type fileTable struct {
	Login  string            `yaml:"login"`
	Homes  map[string]string `yaml:"homes"`
	Routes []fileRule        `yaml:"routes"`
}

type rule struct {
	prefix string
	req    Requirement
}

// Table maps path prefixes to requirements and roles to their home route.
type Table struct {
	login string
	homes map[identity.Role]string
	rules []rule // longest prefix first
}

// DefaultTable returns the built-in dashboard routes.
func DefaultTable() *Table {
	t, err := ParseTable(defaultRoutes)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable reads a YAML route table from disk.
func LoadTable(file string) (*Table, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("guard: read %s: %w", file, err)
	}
	t, err := ParseTable(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return t, nil
}

// ParseTable decodes and validates a YAML route table. Every role must have
// a home, and every home must admit its own role.
func ParseTable(raw []byte) (*Table, error) {
	var f fileTable
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	t := &Table{
		login: cleanPath(f.Login),
		homes: make(map[identity.Role]string, len(f.Homes)),
	}
	if f.Login == "" {
		t.login = "/login"
	}

	seen := make(map[string]bool, len(f.Routes))
	for i, fr := range f.Routes {
		r, err := fr.compile()
		if err != nil {
			return nil, fmt.Errorf("%w: routes[%d]: %v", ErrInvalidTable, i, err)
		}
		if seen[r.prefix] {
			return nil, fmt.Errorf("%w: duplicate prefix %q", ErrInvalidTable, r.prefix)
		}
		seen[r.prefix] = true
		t.rules = append(t.rules, r)
	}
	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].prefix) > len(t.rules[j].prefix)
	})

	for name, home := range f.Homes {
		role, err := identity.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: homes: %v", ErrInvalidTable, err)
		}
		t.homes[role] = cleanPath(home)
	}
	for _, role := range identity.Roles() {
		home, ok := t.homes[role]
		if !ok {
			return nil, fmt.Errorf("%w: no home for role %s", ErrInvalidTable, role)
		}
		if req := t.Requirement(home); req.Access == Roles && !req.Allows(role) {
			return nil, fmt.Errorf("%w: home %s does not admit role %s", ErrInvalidTable, home, role)
		}
	}
	if req := t.Requirement(t.login); req.Access != Public {
		return nil, fmt.Errorf("%w: login route %s must be public", ErrInvalidTable, t.login)
	}

	return t, nil
}

func (fr fileRule) compile() (rule, error) {
	if !strings.HasPrefix(fr.Prefix, "/") {
		return rule{}, fmt.Errorf("prefix %q must start with /", fr.Prefix)
	}

	r := rule{prefix: cleanPath(fr.Prefix)}
	switch {
	case fr.Access != "":
		a, err := ParseAccess(fr.Access)
		if err != nil {
			return rule{}, err
		}
		r.req.Access = a
	case len(fr.Roles) > 0:
		r.req.Access = Roles
	default:
		r.req.Access = Authenticated
	}

	if r.req.Access != Roles && len(fr.Roles) > 0 {
		return rule{}, fmt.Errorf("prefix %s: roles given with access %s", r.prefix, r.req.Access)
	}
	for _, name := range fr.Roles {
		role, err := identity.ParseRole(name)
		if err != nil {
			return rule{}, err
		}
		r.req.Roles = append(r.req.Roles, role)
	}
	return r, nil
}

// Requirement returns the requirement of the longest prefix matching p.
// Paths no rule covers are Authenticated.
func (t *Table) Requirement(p string) Requirement {
	p = cleanPath(p)
	for _, r := range t.rules {
		if matches(r.prefix, p) {
			return r.req
		}
	}
	return Requirement{Access: Authenticated}
}

// Home returns the dashboard entry route of role.
func (t *Table) Home(role identity.Role) (string, bool) {
	h, ok := t.homes[role]
	return h, ok
}

// Login returns the sign-in route.
func (t *Table) Login() string { return t.login }

// matches reports whether p is prefix or lies below it, segment-wise.
// The root prefix only covers the landing page itself.
func matches(prefix, p string) bool {
	if p == prefix {
		return true
	}
	return prefix != "/" && strings.HasPrefix(p, prefix+"/")
}

func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
