// Package gateway is the HTTP client for the identity API. It turns transport
// and status failures into autherr kinds and never writes the session store.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aqualens/cmd/identity"
	"aqualens/cmd/internal/auth/autherr"
	"aqualens/cmd/internal/auth/store"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20

	// RequestIDHeader correlates gateway calls with identity API logs.
	RequestIDHeader = "X-Request-ID"
)

// Invitation is the one-time input of AcceptInvitation. It is never persisted.
type Invitation struct {
	Token    string `json:"token" validate:"required,min=16,max=512,printascii"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type sessionResponse struct {
	Token string               `json:"token"`
	User  *identity.UserRecord `json:"user"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPGateway talks to the identity API rooted at a base URL.
type HTTPGateway struct {
	base     *url.URL
	client   *http.Client
	store    *store.Store
	log      *slog.Logger
	validate *validator.Validate
}

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(g *HTTPGateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithStore lets CurrentUser read the last persisted identity.
func WithStore(s *store.Store) Option {
	return func(g *HTTPGateway) { g.store = s }
}

// New builds a gateway for baseURL (for example "http://127.0.0.1:8080/api").
func New(baseURL string, opts ...Option) (*HTTPGateway, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway: base url must be http or https, got %q", baseURL)
	}

	g := &HTTPGateway{
		base:     u,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Login exchanges credentials for a session. It does not persist anything.
func (g *HTTPGateway) Login(ctx context.Context, email, password string) (store.StoredSession, error) {
	const op = "gateway.Login"

	in := credentials{Email: identity.NormalizeEmail(email), Password: password}
	if err := g.validate.Struct(in); err != nil {
		return store.StoredSession{}, &autherr.Error{
			Kind:    autherr.ValidationFailed,
			Op:      op,
			Message: "enter a valid email address and password",
			Err:     err,
		}
	}
	return g.exchange(ctx, op, "/login", in)
}

// AcceptInvitation redeems an invitation token and returns the new session.
func (g *HTTPGateway) AcceptInvitation(ctx context.Context, inv Invitation) (store.StoredSession, error) {
	const op = "gateway.AcceptInvitation"

	inv.Token = strings.TrimSpace(inv.Token)
	inv.Email = identity.NormalizeEmail(inv.Email)
	if err := g.validate.Struct(inv); err != nil {
		return store.StoredSession{}, autherr.New(autherr.ValidationFailed, op, err)
	}
	return g.exchange(ctx, op, "/invitations/accept", inv)
}

// Logout asks the identity API to revoke token. The result is advisory; the
// caller clears local state regardless.
func (g *HTTPGateway) Logout(ctx context.Context, token string) error {
	const op = "gateway.Logout"

	if strings.TrimSpace(token) == "" {
		return nil
	}
	resp, err := g.do(ctx, op, "/logout", nil, token)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode/100 == 2 {
		return nil
	}
	return g.statusError(op, resp)
}

// CurrentUser returns the identity persisted by the last successful login.
// It never calls the network.
func (g *HTTPGateway) CurrentUser(ctx context.Context) (identity.UserRecord, bool) {
	if g.store == nil {
		return identity.UserRecord{}, false
	}
	sess, ok := g.store.Get(ctx)
	if !ok {
		return identity.UserRecord{}, false
	}
	return sess.User, true
}

func (g *HTTPGateway) exchange(ctx context.Context, op, path string, body any) (store.StoredSession, error) {
	resp, err := g.do(ctx, op, path, body, "")
	if err != nil {
		return store.StoredSession{}, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return store.StoredSession{}, g.statusError(op, resp)
	}

	var out sessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return store.StoredSession{}, autherr.New(autherr.ServerError, op, fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(out.Token) == "" || out.User == nil {
		return store.StoredSession{}, autherr.New(autherr.ServerError, op, errors.New("response missing token or user"))
	}
	if err := out.User.Validate(); err != nil {
		return store.StoredSession{}, autherr.New(autherr.ServerError, op, err)
	}
	return store.StoredSession{AccessToken: out.Token, User: *out.User}, nil
}

func (g *HTTPGateway) do(ctx context.Context, op, path string, body any, bearer string) (*http.Response, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, autherr.New(autherr.ServerError, op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base.JoinPath(path).String(), rdr)
	if err != nil {
		return nil, autherr.New(autherr.ServerError, op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("gateway.request.unreachable", "op", op, "request_id", reqID, "err", err)
		return nil, autherr.New(autherr.NetworkUnreachable, op, err)
	}
	g.log.Debug("gateway.request",
		"op", op,
		"request_id", reqID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (g *HTTPGateway) statusError(op string, resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body)

	kind := KindForStatus(resp.StatusCode)
	g.log.Info("gateway.request.rejected",
		"op", op,
		"status", resp.StatusCode,
		"code", body.Error.Code,
		"kind", kind.String(),
	)
	e := autherr.New(kind, op, fmt.Errorf("identity api: status %d %s", resp.StatusCode, body.Error.Code))
	if resp.StatusCode == http.StatusTooManyRequests {
		e.Message = msgTooManyAttempts
	}
	return e
}

const msgTooManyAttempts = "too many attempts, wait a minute and try again"

// KindForStatus maps identity API statuses onto the error taxonomy.
func KindForStatus(status int) autherr.Kind {
	switch status {
	case http.StatusUnauthorized:
		return autherr.InvalidCredentials
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusGone, http.StatusUnprocessableEntity:
		return autherr.ValidationFailed
	default:
		return autherr.ServerError
	}
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxResponseBody))
	_ = rc.Close()
}
