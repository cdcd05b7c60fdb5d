package authapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// attemptLimiter caps credential attempts (login and invitation redemption)
// per client IP. Both routes share one budget.
func (h *Handler) attemptLimiter() func(http.Handler) http.Handler {
	window := h.cfg.LoginRateWindow
	return httprate.Limit(h.cfg.LoginRateMax, window,
		httprate.WithKeyFuncs(h.rateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			h.log.Warn("auth.rate_limited", "path", r.URL.Path, "ip", ipString(clientIP(r, h.cfg.TrustProxy)))
			writeRateLimited(w, window)
		}),
	)
}

func (h *Handler) rateKey(r *http.Request) (string, error) {
	return ipString(clientIP(r, h.cfg.TrustProxy)), nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
