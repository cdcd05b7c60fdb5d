package guard

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"aqualens/cmd/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewer struct {
	signedIn bool
	role     identity.Role
}

func (v viewer) SignedIn() bool            { return v.signedIn }
func (v viewer) AccessRole() identity.Role { return v.role }

var (
	anonymous = viewer{}
	admin     = viewer{signedIn: true, role: identity.RoleAdmin}
	scientist = viewer{signedIn: true, role: identity.RoleScientist}
)

func TestCheck(t *testing.T) {
	t.Parallel()

	adminOnly := Requirement{Access: Roles, Roles: []identity.Role{identity.RoleAdmin}}

	cases := []struct {
		name   string
		viewer Principal
		req    Requirement
		want   Verdict
	}{
		{"anonymous on protected", anonymous, Requirement{Access: Authenticated}, RedirectToLogin},
		{"anonymous on role route", anonymous, adminOnly, RedirectToLogin},
		{"anonymous on public", anonymous, Requirement{Access: Public}, Allow},
		{"nil viewer on protected", nil, Requirement{Access: Authenticated}, RedirectToLogin},
		{"scientist on admin route", scientist, adminOnly, RedirectToHome},
		{"admin on admin route", admin, adminOnly, Allow},
		{"scientist on unrestricted route", scientist, Requirement{Access: Authenticated}, Allow},
		{"empty role set admits no one", admin, Requirement{Access: Roles}, RedirectToHome},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for range 3 {
				assert.Equal(t, tc.want, Check(tc.viewer, tc.req))
			}
		})
	}
}

func TestDefaultTable(t *testing.T) {
	t.Parallel()

	tbl := DefaultTable()

	homes := map[identity.Role]string{
		identity.RoleAdmin:           "/admin",
		identity.RoleScientist:       "/scientist",
		identity.RoleResearcher:      "/researcher",
		identity.RolePolicymaker:     "/policymaker",
		identity.RoleFieldTechnician: "/field-technician",
	}
	for role, want := range homes {
		got, ok := tbl.Home(role)
		require.True(t, ok, role)
		assert.Equal(t, want, got)
	}

	assert.Equal(t, Public, tbl.Requirement("/").Access)
	assert.Equal(t, Public, tbl.Requirement("/login").Access)
	assert.Equal(t, Authenticated, tbl.Requirement("/stations/42").Access)
	assert.Equal(t, Authenticated, tbl.Requirement("/not-in-table").Access)
	assert.Equal(t, Roles, tbl.Requirement("/admin/users?page=2").Access)
	assert.Equal(t, Authenticated, tbl.Requirement("/administrator").Access)
}

func TestGuard_Navigate(t *testing.T) {
	t.Parallel()

	g := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cases := []struct {
		name   string
		viewer Principal
		path   string
		want   Decision
	}{
		{"anonymous to dashboard", anonymous, "/scientist/samples", Decision{RedirectToLogin, "/login?next=%2Fscientist%2Fsamples"}},
		{"anonymous to landing", anonymous, "/", Decision{Verdict: Allow}},
		{"anonymous to unknown", anonymous, "/somewhere", Decision{RedirectToLogin, "/login?next=%2Fsomewhere"}},
		{"scientist to admin", scientist, "/admin", Decision{RedirectToHome, "/scientist"}},
		{"scientist to own area", scientist, "/scientist/readings", Decision{Verdict: Allow}},
		{"scientist to shared", scientist, "/reports/2026", Decision{Verdict: Allow}},
		{"admin to samples", admin, "/samples", Decision{RedirectToHome, "/admin"}},
		{"dot segments", scientist, "/scientist/../admin", Decision{RedirectToHome, "/scientist"}},
		{"field tech to samples", viewer{signedIn: true, role: identity.RoleFieldTechnician}, "/samples/new", Decision{Verdict: Allow}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, g.Navigate(tc.viewer, tc.path))
		})
	}
}

func TestParseTable_Invalid(t *testing.T) {
	t.Parallel()

	homes := `
homes:
  admin: /admin
  scientist: /scientist
  researcher: /researcher
  policymaker: /policymaker
  field_technician: /field-technician
`
	cases := map[string]string{
		"bad yaml":            "routes: [",
		"missing home":        "homes:\n  admin: /admin\n",
		"unknown role":        homes + "routes:\n  - prefix: /x\n    roles: [janitor]\n",
		"unknown access":      homes + "routes:\n  - prefix: /x\n    access: vip\n",
		"relative prefix":     homes + "routes:\n  - prefix: x\n",
		"duplicate prefix":    homes + "routes:\n  - prefix: /x\n  - prefix: /x/\n",
		"roles with public":   homes + "routes:\n  - prefix: /x\n    access: public\n    roles: [admin]\n",
		"home excludes role":  homes + "routes:\n  - prefix: /admin\n    roles: [scientist]\n",
		"protected login":     homes + "routes:\n  - prefix: /login\n    access: authenticated\n",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseTable([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTable))
		})
	}
}

func TestLoadTable(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
login: /signin
homes:
  admin: /console
  scientist: /lab
  researcher: /lab
  policymaker: /briefings
  field_technician: /field
routes:
  - prefix: /signin
    access: public
  - prefix: /lab
    roles: [scientist, researcher]
`), 0o600))

	tbl, err := LoadTable(file)
	require.NoError(t, err)

	g := New(tbl, nil)
	assert.Equal(t, Decision{RedirectToLogin, "/signin?next=%2Flab"}, g.Navigate(anonymous, "/lab"))
	assert.Equal(t, Decision{RedirectToHome, "/console"}, g.Navigate(admin, "/lab/x"))

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
