// Package auth provides shared service token authentication for the
// processing API.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken extracts the token from an HTTP request.
func ExtractToken(r *http.Request) string {
	// Check Authorization header
	auth := r.Header.Get("Authorization")
	if auth != "" {
		// Handle "Bearer " prefix if present
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}

	if token := r.Header.Get("X-Auth-Token"); token != "" {
		return token
	}

	// Check query parameter
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

// ContextKey is the type for context keys.
type ContextKey string

// AuthenticatedContextKey marks a request that presented a valid token.
const AuthenticatedContextKey ContextKey = "authenticated"

// IsAuthenticated reports whether the request context passed the middleware.
func IsAuthenticated(ctx context.Context) bool {
	ok, _ := ctx.Value(AuthenticatedContextKey).(bool)
	return ok
}

// ServiceAuth provides service-level authentication.
type ServiceAuth struct {
	serviceToken string
}

// NewServiceAuth creates a new service authenticator. An empty token
// disables authentication.
func NewServiceAuth(serviceToken string) *ServiceAuth {
	return &ServiceAuth{
		serviceToken: serviceToken,
	}
}

// Enabled reports whether a service token is configured.
func (sa *ServiceAuth) Enabled() bool {
	return sa != nil && sa.serviceToken != ""
}

// Validate compares token with the service token in constant time.
func (sa *ServiceAuth) Validate(token string) bool {
	if !sa.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(sa.serviceToken)) == 1
}

// AuthorizationHeader returns the Authorization header value for the
// service token, or an empty string when authentication is disabled.
func (sa *ServiceAuth) AuthorizationHeader() string {
	if !sa.Enabled() {
		return ""
	}
	return "Bearer " + sa.serviceToken
}

// Middleware rejects requests without a valid token.
func (sa *ServiceAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sa.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := ExtractToken(r)
		if token == "" {
			http.Error(w, "missing authentication token", http.StatusUnauthorized)
			return
		}
		if !sa.Validate(token) {
			http.Error(w, "invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AuthenticatedContextKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
