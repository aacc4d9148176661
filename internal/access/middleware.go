package access

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/fintrack/fintrack/internal/platform/httpx"
	"github.com/fintrack/fintrack/internal/shared"
)

// Anonymous is the principal used when authentication is disabled.
var Anonymous = shared.Principal{Name: "anonymous", Scope: ScopeAll}

// Middleware authenticates requests and stores the principal in the request context.
func Middleware(auth *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() {
				next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), Anonymous)))
				return
			}
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="fintrack"`)
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			principal, err := auth.Authenticate(strings.TrimSpace(token))
			if err != nil {
				logger.Warn("authentication failed", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
				w.Header().Set("WWW-Authenticate", `Bearer realm="fintrack", error="invalid_token"`)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
