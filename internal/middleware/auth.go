package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"issuelinks/internal/config"
)

// adminRealm is announced to operators whose admin call was refused
const adminRealm = `Bearer realm="issuelinks-admin"`

// AdminAuthMiddleware guards the /admin routes with the operator token from
// the configuration. Webhook deliveries never pass through it; backends prove
// themselves with the per-hook secrets instead.
func AdminAuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.EnableAuthentication {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := operatorToken(r)
			if !ok || !tokenEqual(token, cfg.BearerToken) {
				slog.Warn("Admin call refused",
					"request_id", RequestID(r.Context()),
					"backend", r.PathValue("backend"),
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"token_present", ok,
				)
				w.Header().Set("WWW-Authenticate", adminRealm)
				http.Error(w, "Admin token required", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// operatorToken returns the credentials of an Authorization: Bearer header.
// The scheme name is matched case-insensitively.
func operatorToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// tokenEqual compares in constant time; an unset operator token admits nobody
func tokenEqual(token, operator string) bool {
	if operator == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(operator)) == 1
}
