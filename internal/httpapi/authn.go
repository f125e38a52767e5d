package httpapi

import (
	"net/http"
	"strings"

	"arewa.org/internal/apperr"
	"arewa.org/internal/audit"
	"arewa.org/internal/auth"
	"arewa.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	tokenParam = "token"
	loginPath  = "/v1/auth/token"
)

// withAuth resolves the bearer token, when one is presented, to a principal.
// Requests without a token continue anonymously; handlers that need a user
// call requireUser. Login never looks at a presented token, so a stale one
// cannot block getting a fresh one.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == loginPath {
			next.ServeHTTP(w, r)
			return
		}
		raw := extractToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.gateway.ValidateBearerToken(r.Context(), raw)
		if err != nil {
			_ = audit.LogEvent(r.Context(), audit.AuthFailed, map[string]any{
				"token_prefix": token.Prefix(raw),
				"ip":           clientIP(r),
				"reason":       apperr.KindOf(err).String(),
			})
			writeAppError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser returns the authenticated principal or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeAppError(w, r, apperr.ErrTokenInvalidOrExpired)
		return auth.Principal{}, false
	}
	return p, true
}

// extractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter.
func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if len(header) > len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
		if t := strings.TrimSpace(header[len(bearer):]); t != "" {
			return t
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(tokenParam))
}
