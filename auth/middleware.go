package auth

import (
	"context"
	"net/http"
	"strings"

	"call-lab/errors"
)

// Paths served without a token. Everything else requires a valid bearer.
var publicPaths = map[string]struct{}{
	"/healthz": {},
}

type contextKey string

const ServiceIDKey contextKey = "service_id"

// Middleware handles JWT validation for incoming HTTP calls.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Skip authentication for public paths
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// 2. Retrieve and validate the Authorization header
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, errors.ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}

		// Expecting the standard "Bearer <token>" format
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		// 3. Validate the JWT and extract claims
		claims, err := ValidateServiceToken(tokenStr)
		if err != nil {
			http.Error(w, errors.ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		// 4. Inject the caller identity into the request context
		ctx := context.WithValue(r.Context(), ServiceIDKey, claims.ServiceID)

		// Continue the execution chain with the enriched context
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerService extracts the authenticated service identity, if any.
func CallerService(ctx context.Context) string {
	id, _ := ctx.Value(ServiceIDKey).(string)
	return id
}

// isPublicPath checks if the current path is allowed without a token.
func isPublicPath(path string) bool {
	_, ok := publicPaths[path]
	return ok
}
