package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the HttpOnly cookie set on login for browser clients.
const CookieName = "token"

// contextKey is a package-private type so no other package can read or
// shadow the identity stored in a request context.
type contextKey string

const claimsKey contextKey = "claims"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests that do not carry a valid, unrevoked token.
//
// The token is read from "Authorization: Bearer <jwt>" first and from the
// "token" cookie otherwise. On success the claims are stored in the request
// context for UserIDFromContext and ClaimsFromContext.
//
// Failures answer 401, except a revocation store outage which answers 503:
// the request may well be valid, it just cannot be checked right now.
func RequireAuth(tokens *TokenService, revoker Revoker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, tokens, revoker)
			switch {
			case err == nil:
			case errors.Is(err, errRevocationUnavailable):
				writeAuthError(w, http.StatusServiceUnavailable, "unavailable", "session store is temporarily unavailable")
				return
			case errors.Is(err, ErrTokenExpired):
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "session expired, please log in again")
				return
			default:
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuth attaches the identity when a valid token is present and
// otherwise lets the request through as anonymous. Used on public reads
// where the owner sees more than a stranger, such as a sold listing.
func OptionalAuth(tokens *TokenService, revoker Revoker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := authenticate(r, tokens, revoker); err == nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the validated token claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// UserIDFromContext retrieves the authenticated user's ID.
// Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.UserID == "" {
		return "", false
	}
	return c.UserID, true
}

var errRevocationUnavailable = errors.New("auth: revocation store unavailable")

func authenticate(r *http.Request, tokens *TokenService, revoker Revoker) (*Claims, error) {
	raw, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}

	claims, err := tokens.Validate(raw)
	if err != nil {
		return nil, err
	}

	if revoker != nil {
		revoked, err := revoker.IsRevoked(r.Context(), claims.TokenID)
		if err != nil {
			return nil, errors.Join(errRevocationUnavailable, err)
		}
		if revoked {
			return nil, ErrTokenInvalid
		}
	}

	return claims, nil
}

// TokenFromRequest extracts the raw token from the Authorization header,
// falling back to the session cookie. A present but malformed header is an
// error; it does not fall through to the cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", ErrTokenInvalid
		}
		return strings.TrimSpace(token), nil
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", errNoToken
	}
	return cookie.Value, nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
