// Package authapi is the development identity API the dashboard signs in
// against: password login, bearer-token logout, invitations, and /me.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"aqualens/cmd/identity"
	"aqualens/cmd/internal/invite"
	"aqualens/cmd/security/password"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

// Handler wires HTTP identity endpoints to the user directory, invites and tokens.
type Handler struct {
	log      *slog.Logger
	auditLog *slog.Logger
	cfg      Config

	users   identity.Directory
	invites *invite.Service
	tokens  *Tokens
	mailer  InviteMailer

	validate *validator.Validate
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithInviteMailer overrides the default no-op mailer.
func WithInviteMailer(m InviteMailer) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.mailer = m
		}
	}
}

// WithAuditLogger sends audit events to log instead of the handler logger.
func WithAuditLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.auditLog = log
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Directory, invites *invite.Service, tokens *Tokens, opts ...HandlerOption) (*Handler, error) {
	if users == nil || invites == nil || tokens == nil {
		return nil, errors.New("authapi: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.LoginRateMax <= 0 {
		cfg.LoginRateMax = 10
	}
	if cfg.LoginRateWindow <= 0 {
		cfg.LoginRateWindow = time.Minute
	}

	h := &Handler{
		log:      log,
		auditLog: log,
		cfg:      cfg,
		users:    users,
		invites:  invites,
		tokens:   tokens,
		mailer:   NoopInviteMailer{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if cfg.Ephemeral {
		log.Warn("auth.config.ephemeral_secret", "hint", "set AQUALENS_API_JWT_SECRET to keep tokens valid across restarts")
	}
	return h, nil
}

// Routes returns the API router. The caller mounts it (the server uses /api).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}))

	limited := r.With(h.attemptLimiter())
	limited.Post("/login", h.handleLogin)
	limited.Post("/invitations/accept", h.handleInviteAccept)

	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	r.Post("/invitations", h.handleInviteCreate)
	r.Delete("/invitations/{id}", h.handleInviteRevoke)
	return r
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	ctx := r.Context()
	ip, ua := clientIP(r, h.cfg.TrustProxy), r.UserAgent()

	u, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrBadPassword) {
			h.auditLoginFailed(ctx, ip, ua, identity.NormalizeEmail(req.Email))
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect email or password")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	resp, claims, ok := h.issue(w, u)
	if !ok {
		return
	}
	h.auditLoginSuccess(ctx, u.ID, claims.ID, ip, ua)
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout revokes the presented token. A missing, expired or already
// revoked token still yields 204 so logout stays idempotent.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx := r.Context()
	claims, err := h.tokens.Verify(ctx, raw)
	if err != nil {
		if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenRevoked) {
			h.log.Error("auth.logout.verify.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.tokens.Revoke(ctx, claims); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.auditLogout(ctx, claims.Subject, claims.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: u})
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireRole(w, r, identity.RoleAdmin)
	if !ok {
		return
	}

	var req inviteCreateRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown role")
		return
	}

	ttl := h.cfg.InviteTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	if h.cfg.InviteMaxTTL > 0 && ttl > h.cfg.InviteMaxTTL {
		ttl = h.cfg.InviteMaxTTL
	}

	ctx := r.Context()
	inv, tok, err := h.invites.CreateInvite(ctx, invite.CreateInput{
		Email:     req.Email,
		Role:      role,
		CreatedBy: &claims.Subject,
		TTL:       ttl,
		Note:      req.Note,
	})
	if err != nil {
		if errors.Is(err, invite.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
			return
		}
		h.log.Error("auth.invite.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditInviteCreated(ctx, claims.Subject, inv.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	if err := h.mailer.SendInvitation(ctx, InvitationMessage{
		InviteID:  inv.ID,
		Email:     inv.Email,
		Role:      inv.Role,
		Token:     tok,
		ExpiresAt: inv.ExpiresAt,
	}); err != nil {
		h.log.Error("auth.invite.mail.fail", "err", err, "invite_id", inv.ID)
	}

	writeJSON(w, http.StatusCreated, inviteCreateResponse{
		InviteID:    inv.ID,
		InviteToken: tok,
		Email:       inv.Email,
		Role:        inv.Role,
		ExpiresAt:   inv.ExpiresAt,
	})
}

func (h *Handler) handleInviteRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireRole(w, r, identity.RoleAdmin)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.invites.RevokeInvite(r.Context(), id, time.Time{}); err != nil {
		switch {
		case errors.Is(err, invite.ErrNotFound):
			writeError(w, http.StatusNotFound, "invite_not_found", "invitation not found")
		case errors.Is(err, invite.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.invite.revoke.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}
	h.auditInviteRevoked(r.Context(), claims.Subject, id, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	w.WriteHeader(http.StatusNoContent)
}

// handleInviteAccept redeems an invitation and signs the new user in.
// The invite is consumed before the account is created, so a token can
// never produce two accounts.
func (h *Handler) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	var req inviteAcceptRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	inv, err := h.invites.ValidateInvite(ctx, req.Token, now)
	if err != nil {
		h.writeInviteError(w, err)
		return
	}
	if identity.NormalizeEmail(inv.Email) != identity.NormalizeEmail(req.Email) {
		h.writeInviteError(w, invite.ErrEmailMismatch)
		return
	}
	if err := checkPassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	inv, err = h.invites.ConsumeInvite(ctx, invite.ConsumeInput{
		Token:      req.Token,
		Email:      req.Email,
		ConsumedBy: identity.NormalizeEmail(req.Email),
		Now:        now,
	})
	if err != nil {
		h.writeInviteError(w, err)
		return
	}

	u, err := h.users.Create(ctx, identity.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Role:     inv.Role,
		Password: req.Password,
		Now:      now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "an account with this email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.invite.accept.fail", "err", err, "invite_id", inv.ID)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	resp, _, ok := h.issue(w, u)
	if !ok {
		return
	}
	h.auditInviteConsumed(ctx, u.ID, inv.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusCreated, resp)
}

// ---- helpers ----

func (h *Handler) writeInviteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invite.ErrNotFound):
		writeError(w, http.StatusNotFound, "invite_not_found", "invitation not found")
	case invite.IsGone(err):
		var ie invite.InactiveError
		reason := "inactive"
		if errors.As(err, &ie) {
			reason = string(ie.Reason)
		}
		writeError(w, http.StatusGone, "invite_"+reason, "invitation is no longer valid")
	case errors.Is(err, invite.ErrEmailMismatch):
		writeError(w, http.StatusBadRequest, "invite_email_mismatch", "invitation was issued to a different email")
	case errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	default:
		h.log.Error("auth.invite.accept.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) issue(w http.ResponseWriter, u identity.UserRecord) (sessionResponse, Claims, bool) {
	tok, claims, err := h.tokens.Issue(u)
	if err != nil {
		h.log.Error("auth.token.issue.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return sessionResponse{}, Claims{}, false
	}
	return sessionResponse{Token: tok, ExpiresAt: claims.ExpiresAt.Time, User: u}, claims, true
}

func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return Claims{}, false
	}
	claims, err := h.tokens.Verify(r.Context(), raw)
	if err != nil {
		if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenRevoked) {
			h.log.Error("auth.token.verify.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return Claims{}, false
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return Claims{}, false
	}
	return claims, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, role identity.Role) (Claims, bool) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return Claims{}, false
	}
	if claims.Role != role {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		return Claims{}, false
	}
	return claims, true
}

func validationMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return "invalid input"
	}
	fe := ves[0]
	return strings.ToLower(fe.Field()) + " failed " + fe.Tag()
}

func checkPassword(pw string) error {
	cfg, err := password.FromEnv()
	if err != nil {
		return err
	}
	return cfg.Validate(pw)
}

// Seed creates accounts that do not exist yet. Existing emails are skipped.
func Seed(ctx context.Context, log *slog.Logger, users identity.Directory, accounts []identity.NewUser) error {
	for _, a := range accounts {
		u, err := users.Create(ctx, a)
		switch {
		case err == nil:
			log.Info("auth.seed.created", "user_id", u.ID, "email", u.Email, "role", u.Role.String())
		case identity.IsConflict(err):
			log.Debug("auth.seed.exists", "email", a.Email)
		default:
			return err
		}
	}
	return nil
}
