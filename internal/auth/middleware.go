package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// CookieName is the cookie carrying the session JWT.
const CookieName = "authToken"

// contextKey is unexported so only this package can read or write the
// session stored in a request context.
type contextKey string

const claimsKey contextKey = "session"

// SessionValidator is the part of TokenService the middleware needs.
type SessionValidator interface {
	ValidateSession(tokenStr string) (*SessionClaims, error)
}

// RequireAuth rejects requests without a valid session with 401 and stores
// the session claims in the request context for the rest of the chain.
//
// The token is read from the authToken cookie. API clients that cannot keep
// cookies may send it as "Authorization: Bearer <jwt>" instead.
func RequireAuth(tokens SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractClaims(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized: valid authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin is RequireAuth plus a role check: sessions whose role claim
// is not ADMIN get 403.
func RequireAdmin(tokens SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractClaims(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized: valid authentication required")
				return
			}
			if !claims.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "forbidden", "Admin access required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns a copy of ctx carrying the session.
func WithClaims(ctx context.Context, c *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the session stored by RequireAuth/RequireAdmin.
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*SessionClaims)
	return c, ok && c != nil && c.ID != ""
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.ID, true
}

// SetSessionCookie stores token in the authToken cookie for SessionTTL.
// Secure is only set in production so that local HTTP development works.
func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func extractClaims(r *http.Request, tokens SessionValidator) (*SessionClaims, error) {
	var raw string
	if cookie, err := r.Cookie(CookieName); err == nil {
		raw = cookie.Value
	} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	} else {
		return nil, err
	}
	return tokens.ValidateSession(raw)
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": message})
}
