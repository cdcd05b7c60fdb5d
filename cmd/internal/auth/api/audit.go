package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
)

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, email string) {
	h.audit(ctx, "auth.login.failed", ip, ua, slog.String("email", email))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, jti string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.success", ip, ua, slog.String("user_id", userID), slog.String("jti", jti))
}

func (h *Handler) auditLogout(ctx context.Context, userID, jti string, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", ip, ua, slog.String("user_id", userID), slog.String("jti", jti))
}

func (h *Handler) auditInviteCreated(ctx context.Context, userID, inviteID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.invite.created", ip, ua, slog.String("user_id", userID), slog.String("invite_id", inviteID))
}

func (h *Handler) auditInviteRevoked(ctx context.Context, userID, inviteID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.invite.revoked", ip, ua, slog.String("user_id", userID), slog.String("invite_id", inviteID))
}

func (h *Handler) auditInviteConsumed(ctx context.Context, userID, inviteID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.invite.consumed", ip, ua, slog.String("user_id", userID), slog.String("invite_id", inviteID))
}

// audit writes one security event to the audit logger.
func (h *Handler) audit(ctx context.Context, action string, ip net.IP, ua string, attrs ...slog.Attr) {
	if h == nil || h.auditLog == nil {
		return
	}

	base := []slog.Attr{slog.String("action", action)}
	if ip != nil {
		base = append(base, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		base = append(base, slog.String("user_agent", ua))
	}
	h.auditLog.LogAttrs(ctx, slog.LevelInfo, "auth.audit", append(base, attrs...)...)
}
