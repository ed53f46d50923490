// ABOUTME: Handshake authentication for HTTP and WebSocket requests
// ABOUTME: Reads a JWT from header, query or cookie and degrades to a guest identity on any failure

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Credential locations checked by CredentialFromRequest, in order.
const (
	TokenQueryParam = "access_token"
	TokenCookieName = "discuss_token"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// CredentialFromRequest returns the raw credential presented with a request, or "" if none.
// Browsers cannot set headers on a WebSocket handshake, so the query parameter and cookie are accepted too.
func CredentialFromRequest(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token
	}
	if c, err := r.Cookie(TokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// Authenticator resolves handshake credentials to identities.
type Authenticator struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. A nil verifier makes every caller a guest.
func NewAuthenticator(verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		verifier: verifier,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate verifies a credential. It never fails: absent, malformed or
// expired credentials yield the anonymous identity.
func (a *Authenticator) Authenticate(credential string) Identity {
	if credential == "" || a.verifier == nil {
		return Anonymous()
	}

	claims, err := a.verifier.Verify(credential)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, ErrExpiredToken) {
			reason = "expired"
		}
		a.logger.Debug("credential rejected, continuing as guest", "reason", reason, "error", err)
		return Anonymous()
	}
	return IdentityFromClaims(claims)
}

// AuthenticateRequest authenticates whatever credential the request carries.
func (a *Authenticator) AuthenticateRequest(r *http.Request) Identity {
	return a.Authenticate(CredentialFromRequest(r))
}

// OptionalAuthMiddleware attaches the caller's identity to the request context.
// Unauthenticated requests continue as guests.
func OptionalAuthMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := a.AuthenticateRequest(r)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
