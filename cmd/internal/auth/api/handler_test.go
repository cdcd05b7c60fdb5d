package authapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aqualens/cmd/identity"
	"aqualens/cmd/internal/auth/autherr"
	"aqualens/cmd/internal/auth/gateway"
	"aqualens/cmd/internal/invite"

	"github.com/goccy/go-json"
)

const strongPassword = "Very-Strong-Password-1!"

type testAPI struct {
	srv     *httptest.Server
	users   *identity.MemoryDirectory
	invites *invite.Service
	tokens  *Tokens
	gw      *gateway.HTTPGateway
}

func newTestAPI(t *testing.T, mutate func(*Config)) *testAPI {
	t.Helper()

	// Keep Argon2id cheap in tests.
	t.Setenv("AQUALENS_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("AQUALENS_ARGON2_ITERATIONS", "1")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		Issuer:          "aqualens-test",
		Secret:          []byte(strings.Repeat("s", 32)),
		AccessTTL:       time.Hour,
		InviteTTL:       time.Hour,
		InviteMaxTTL:    24 * time.Hour,
		MaxBodyBytes:    1 << 16,
		LoginRateMax:    100,
		LoginRateWindow: time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	users := identity.NewMemoryDirectory()
	invites, err := invite.NewService(invite.NewMemoryStore())
	if err != nil {
		t.Fatalf("invite.NewService: %v", err)
	}
	tokens, err := NewTokens(cfg, nil)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	h, err := NewHandler(log, cfg, users, invites, tokens)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	gw, err := gateway.New(srv.URL, gateway.WithLogger(log))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	return &testAPI{srv: srv, users: users, invites: invites, tokens: tokens, gw: gw}
}

func (a *testAPI) seed(t *testing.T, email string, role identity.Role) identity.UserRecord {
	t.Helper()
	u, err := a.users.Create(context.Background(), identity.NewUser{Name: "Seed", Email: email, Role: role, Password: strongPassword})
	if err != nil {
		t.Fatalf("seed %s: %v", email, err)
	}
	return u
}

func (a *testAPI) do(t *testing.T, method, path, bearer string, body any) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e.Error.Code
}

func TestLogin_ThroughGateway(t *testing.T) {
	api := newTestAPI(t, nil)
	u := api.seed(t, "ama@river.example", identity.RoleScientist)

	sess, err := api.gw.Login(context.Background(), "AMA@river.example", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.AccessToken == "" || sess.User.ID != u.ID || sess.User.Role != identity.RoleScientist {
		t.Fatalf("unexpected session: %+v", sess)
	}

	_, err = api.gw.Login(context.Background(), "ama@river.example", "Wrong-Password-1!")
	if autherr.KindOf(err) != autherr.InvalidCredentials {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}

	// Unknown emails are indistinguishable from wrong passwords.
	status, body := api.do(t, http.MethodPost, "/login", "", loginRequest{Email: "ghost@river.example", Password: strongPassword})
	if status != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %s", status, body)
	}
}

func TestLogin_RejectsMalformed(t *testing.T) {
	api := newTestAPI(t, nil)

	status, body := api.do(t, http.MethodPost, "/login", "", map[string]any{"email": "not-an-email", "password": "x"})
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_request" {
		t.Fatalf("expected 400 invalid_request, got %d %s", status, body)
	}

	status, body = api.do(t, http.MethodPost, "/login", "", map[string]any{"email": "a@b.example", "password": "x", "extra": 1})
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_json" {
		t.Fatalf("expected 400 invalid_json, got %d %s", status, body)
	}
}

func TestMeAndLogout(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "pm@river.example", identity.RolePolicymaker)

	sess, err := api.gw.Login(context.Background(), "pm@river.example", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	status, body := api.do(t, http.MethodGet, "/me", sess.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("me: %d %s", status, body)
	}
	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.Role != identity.RolePolicymaker {
		t.Fatalf("unexpected role %q", me.User.Role)
	}

	if err := api.gw.Logout(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if status, _ := api.do(t, http.MethodGet, "/me", sess.AccessToken, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", status)
	}

	// Logout is idempotent, including with no token at all.
	if err := api.gw.Logout(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if status, _ := api.do(t, http.MethodPost, "/logout", "", nil); status != http.StatusNoContent {
		t.Fatalf("expected 204 without token, got %d", status)
	}
	if status, _ := api.do(t, http.MethodGet, "/me", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestInvitations_CreateAndAccept(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "admin@river.example", identity.RoleAdmin)
	api.seed(t, "sci@river.example", identity.RoleScientist)

	admin, err := api.gw.Login(context.Background(), "admin@river.example", strongPassword)
	if err != nil {
		t.Fatalf("admin Login: %v", err)
	}
	sci, err := api.gw.Login(context.Background(), "sci@river.example", strongPassword)
	if err != nil {
		t.Fatalf("scientist Login: %v", err)
	}

	req := inviteCreateRequest{Email: "tech@river.example", Role: "field_technician"}
	if status, _ := api.do(t, http.MethodPost, "/invitations", sci.AccessToken, req); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", status)
	}

	status, body := api.do(t, http.MethodPost, "/invitations", admin.AccessToken, req)
	if status != http.StatusCreated {
		t.Fatalf("create invite: %d %s", status, body)
	}
	var created inviteCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode invite: %v", err)
	}

	inv := gateway.Invitation{Token: created.InviteToken, Email: "other@river.example", Password: strongPassword}
	if _, err := api.gw.AcceptInvitation(context.Background(), inv); autherr.KindOf(err) != autherr.ValidationFailed {
		t.Fatalf("expected ValidationFailed for wrong email, got %v", err)
	}

	inv.Email = "Tech@River.example"
	sess, err := api.gw.AcceptInvitation(context.Background(), inv)
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if sess.User.Role != identity.RoleFieldTechnician || sess.AccessToken == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	status, body = api.do(t, http.MethodPost, "/invitations/accept", "", inviteAcceptRequest{Token: created.InviteToken, Email: "tech@river.example", Password: strongPassword})
	if status != http.StatusGone || errorCode(t, body) != "invite_used" {
		t.Fatalf("expected 410 invite_used, got %d %s", status, body)
	}

	status, body = api.do(t, http.MethodPost, "/invitations/accept", "", inviteAcceptRequest{Token: strings.Repeat("x", 43), Email: "tech@river.example", Password: strongPassword})
	if status != http.StatusNotFound || errorCode(t, body) != "invite_not_found" {
		t.Fatalf("expected 404 invite_not_found, got %d %s", status, body)
	}
}

func TestInvitations_ExpiredAndRevoked(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "admin@river.example", identity.RoleAdmin)
	ctx := context.Background()

	_, expiredTok, err := api.invites.CreateInvite(ctx, invite.CreateInput{
		Email: "late@river.example",
		Role:  identity.RoleResearcher,
		TTL:   time.Hour,
		Now:   time.Now().UTC().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	_, err = api.gw.AcceptInvitation(ctx, gateway.Invitation{Token: expiredTok, Email: "late@river.example", Password: strongPassword})
	if autherr.KindOf(err) != autherr.ValidationFailed {
		t.Fatalf("expected ValidationFailed for expired invite, got %v", err)
	}

	admin, err := api.gw.Login(ctx, "admin@river.example", strongPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	inv, tok, err := api.invites.CreateInvite(ctx, invite.CreateInput{Email: "rev@river.example", Role: identity.RoleScientist})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if status, body := api.do(t, http.MethodDelete, "/invitations/"+inv.ID, admin.AccessToken, nil); status != http.StatusNoContent {
		t.Fatalf("revoke: %d %s", status, body)
	}
	status, body := api.do(t, http.MethodPost, "/invitations/accept", "", inviteAcceptRequest{Token: tok, Email: "rev@river.example", Password: strongPassword})
	if status != http.StatusGone || errorCode(t, body) != "invite_revoked" {
		t.Fatalf("expected 410 invite_revoked, got %d %s", status, body)
	}
}

func TestInvitations_WeakPasswordKeepsInvite(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()

	_, tok, err := api.invites.CreateInvite(ctx, invite.CreateInput{Email: "weak@river.example", Role: identity.RoleScientist})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	status, body := api.do(t, http.MethodPost, "/invitations/accept", "", inviteAcceptRequest{Token: tok, Email: "weak@river.example", Password: "short"})
	if status != http.StatusBadRequest || errorCode(t, body) != "weak_password" {
		t.Fatalf("expected 400 weak_password, got %d %s", status, body)
	}
	if _, err := api.invites.ValidateInvite(ctx, tok, time.Time{}); err != nil {
		t.Fatalf("invite should still be usable: %v", err)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	api := newTestAPI(t, func(c *Config) { c.LoginRateMax = 2 })

	req := loginRequest{Email: "nobody@river.example", Password: strongPassword}
	for i := 0; i < 2; i++ {
		if status, _ := api.do(t, http.MethodPost, "/login", "", req); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, status)
		}
	}
	status, body := api.do(t, http.MethodPost, "/login", "", req)
	if status != http.StatusTooManyRequests || errorCode(t, body) != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %s", status, body)
	}
}

func TestTokens_RejectForeignAndExpired(t *testing.T) {
	cfg := Config{Issuer: "a", Secret: []byte(strings.Repeat("k", 32)), AccessTTL: time.Minute}
	tokens, err := NewTokens(cfg, nil)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	u := identity.UserRecord{ID: "u1", Email: "u1@river.example", Role: identity.RoleAdmin}

	raw, _, err := tokens.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != identity.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	otherCfg := cfg
	otherCfg.Issuer = "b"
	other, _ := NewTokens(otherCfg, nil)
	if _, err := other.Verify(context.Background(), raw); err == nil {
		t.Fatalf("expected foreign issuer to be rejected")
	}

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tokens.Verify(context.Background(), raw); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	if _, err := NewTokens(Config{Secret: []byte("short"), AccessTTL: time.Minute}, nil); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}
