package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqualens/cmd/identity"
	authapi "aqualens/cmd/internal/auth/api"
	"aqualens/cmd/internal/auth/store"
	"aqualens/cmd/internal/invite"
	"aqualens/cmd/internal/realtime"
)

const samPassword = "Lake-Sample-Depth-42!"

// lockedBuffer is written by controller listeners while tests read it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	api     string
	origin  *store.MemoryOrigin
	invites *invite.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	t.Setenv("AQUALENS_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("AQUALENS_ARGON2_ITERATIONS", "1")
	t.Setenv("AQUALENS_PASSWORD", "")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := authapi.Config{
		Issuer:          "aqualens-test",
		Secret:          []byte(strings.Repeat("s", 32)),
		AccessTTL:       time.Hour,
		InviteTTL:       time.Hour,
		InviteMaxTTL:    24 * time.Hour,
		MaxBodyBytes:    1 << 16,
		LoginRateMax:    100,
		LoginRateWindow: time.Minute,
	}

	users := identity.NewMemoryDirectory()
	invites, err := invite.NewService(invite.NewMemoryStore())
	require.NoError(t, err)
	tokens, err := authapi.NewTokens(cfg, nil)
	require.NoError(t, err)
	h, err := authapi.NewHandler(log, cfg, users, invites, tokens)
	require.NoError(t, err)

	require.NoError(t, authapi.Seed(context.Background(), log, users, []identity.NewUser{
		{Name: "Sam Scientist", Email: "sam@aqualens.local", Role: identity.RoleScientist, Password: samPassword},
	}))

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &fixture{api: srv.URL, origin: store.NewMemoryOrigin(store.DefaultNamespace), invites: invites}
}

// run executes one aqualensctl invocation as a fresh tab of f.origin.
func (f *fixture) run(ctx context.Context, stdin string, args ...string) (string, error) {
	out := &lockedBuffer{}
	err := f.runTo(ctx, out, stdin, args...)
	return out.String(), err
}

func (f *fixture) runTo(ctx context.Context, out io.Writer, stdin string, args ...string) error {
	cmd := NewRootCommand(Deps{Backend: f.origin, Stdin: strings.NewReader(stdin)})
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--api", f.api, "--log-level", "error"}, args...))
	return cmd.ExecuteContext(ctx)
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string]bool{
		"login":         false,
		"accept-invite": false,
		"logout":        false,
		"whoami":        false,
		"check":         false,
		"watch":         false,
	}
	for _, c := range NewRootCommand(Deps{}).Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "subcommand %q not registered", name)
	}
}

func TestLogin_SharedAcrossInvocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.run(ctx, "", "login", "--email", "Sam@Aqualens.Local", "--password", samPassword)
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Sam Scientist <sam@aqualens.local> (scientist)")
	assert.Contains(t, out, "home: /scientist")

	out, err = f.run(ctx, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "sam@aqualens.local")

	out, err = f.run(ctx, "", "check", "/reports")
	require.NoError(t, err)
	assert.Equal(t, "allow\n", out)

	out, err = f.run(ctx, "", "check", "/admin/users")
	require.NoError(t, err)
	assert.Equal(t, "redirect_to_home /scientist\n", out)

	out, err = f.run(ctx, "", "logout")
	require.NoError(t, err)
	assert.Equal(t, "signed out sam@aqualens.local\n", out)

	out, err = f.run(ctx, "", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "not signed in\n", out)

	out, err = f.run(ctx, "", "check", "/stations")
	require.NoError(t, err)
	assert.Equal(t, "redirect_to_login /login?next=%2Fstations\n", out)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(context.Background(), "", "login", "--email", "sam@aqualens.local", "--password", "nope-nope-nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_credentials")
	assert.Contains(t, err.Error(), "incorrect email or password")

	snap := store.New(f.origin).Snapshot(context.Background())
	assert.True(t, snap.Empty())
}

func TestLogin_PasswordSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.run(ctx, samPassword+"\n", "login", "--email", "sam@aqualens.local", "--password-stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Sam Scientist")

	t.Setenv("AQUALENS_PASSWORD", samPassword)
	out, err = f.run(ctx, "", "login", "--email", "sam@aqualens.local")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Sam Scientist")

	t.Setenv("AQUALENS_PASSWORD", "")
	_, err = f.run(ctx, "", "login", "--email", "sam@aqualens.local")
	require.ErrorContains(t, err, "password required")

	_, err = f.run(ctx, "", "login", "--password", samPassword)
	require.ErrorContains(t, err, "email")
}

func TestLogout_WithoutSession(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(context.Background(), "", "logout")
	require.NoError(t, err)
	assert.Equal(t, "not signed in\n", out)
}

func TestAcceptInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, tok, err := f.invites.CreateInvite(ctx, invite.CreateInput{Email: "tech@aqualens.local", Role: identity.RoleFieldTechnician})
	require.NoError(t, err)

	out, err := f.run(ctx, "", "accept-invite", "--token", tok, "--email", "tech@aqualens.local", "--password", "Field-Probe-Station-9!")
	require.NoError(t, err)
	assert.Contains(t, out, "(field_technician)")
	assert.Contains(t, out, "home: /field-technician")

	_, err = f.run(ctx, "", "accept-invite", "--token", tok, "--email", "tech@aqualens.local", "--password", "Field-Probe-Station-9!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation_failed")
}

func TestCheck_As(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		as, path, want string
	}{
		{"anonymous", "/", "allow\n"},
		{"anonymous", "/readings", "redirect_to_login /login?next=%2Freadings\n"},
		{"scientist", "/samples/42", "allow\n"},
		{"policymaker", "/samples", "redirect_to_home /policymaker\n"},
		{"admin", "/unlisted", "allow\n"},
	}
	for _, tc := range cases {
		out, err := f.run(ctx, "", "check", tc.path, "--as", tc.as)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, out, "%s as %s", tc.path, tc.as)
	}

	_, err := f.run(ctx, "", "check", "/admin", "--as", "janitor")
	require.Error(t, err)

	_, err = f.run(ctx, "", "check")
	require.Error(t, err)
}

func TestWatch_FollowsOtherTabs(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- f.runTo(ctx, out, "", "watch") }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "state=anonymous") },
		5*time.Second, 10*time.Millisecond)

	_, err := f.run(context.Background(), "", "login", "--email", "sam@aqualens.local", "--password", samPassword)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "state=authenticated user=sam@aqualens.local role=scientist")
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.run(context.Background(), "", "logout")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Count(out.String(), "state=anonymous") >= 2 },
		5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatch_Relay(t *testing.T) {
	f := newFixture(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := realtime.NewHub(log, f.origin, nil)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(hub.Stop)

	cfg := realtime.DefaultGatewayConfig()
	cfg.OriginRequired = false
	relay := httptest.NewServer(realtime.NewWSGateway(log, hub, cfg, nil))
	t.Cleanup(relay.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- f.runTo(ctx, out, "", "watch", "--relay", "ws"+strings.TrimPrefix(relay.URL, "http"))
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "connected session=") },
		5*time.Second, 10*time.Millisecond)

	_, err := f.run(context.Background(), "", "--tab-id", "tab-login", "login", "--email", "sam@aqualens.local", "--password", samPassword)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "changed key=access_token writer=tab-login") &&
			strings.Contains(s, "changed key=user writer=tab-login")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "removed key=user writer=w", describeEvent(store.Event{Key: "user", Writer: "w", Removed: true}))
	assert.Equal(t, "changed key=access_token writer=w", describeEvent(store.Event{Key: "access_token", Writer: "w"}))
}
