package httpapi

import (
	"net/http"
	"strings"

	"turfboard.app/internal/auth"
)

const userEmailHeader = "X-User-Email"

// withIdentity resolves the caller and stores it on the request context.
// A bearer token wins over the header, the header over the userEmail query
// parameter. An invalid token is rejected instead of falling back.
func (a *API) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if raw := r.Header.Get("Authorization"); raw != "" {
			token, err := extractBearerToken(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			if !auth.Enabled() {
				writeError(w, http.StatusUnauthorized, "token authentication is not configured")
				return
			}
			claims, err := auth.ParseAndValidate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx = auth.ContextWithIdentity(ctx, claims.Email(), auth.SourceBearer)
		} else if email := r.Header.Get(userEmailHeader); strings.TrimSpace(email) != "" {
			ctx = auth.ContextWithIdentity(ctx, email, auth.SourceHeader)
		} else if email := r.URL.Query().Get("userEmail"); strings.TrimSpace(email) != "" {
			ctx = auth.ContextWithIdentity(ctx, email, auth.SourceQuery)
		}

		if a.requireIdentity && strings.HasPrefix(r.URL.Path, "/api/") && auth.IdentityFromContext(ctx).Anonymous() {
			writeError(w, http.StatusUnauthorized, "identity required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", auth.ErrMalformedAuth
	}
	return parts[1], nil
}

func callerEmail(r *http.Request) string {
	return auth.IdentityFromContext(r.Context()).Email
}
