package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/readtrailapp/readtrail-server/internal/http/response"
)

// publicPathPrefixes are reachable without a bearer token: the health check
// and the OpenAPI surface huma serves.
var publicPathPrefixes = []string{
	"/health",
	"/openapi",
	"/docs",
	"/schemas",
}

func isPublicPath(path string) bool {
	for _, prefix := range publicPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// requireAuth validates the shared device token on every API request.
// When no token is configured (development), all requests pass.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" || isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "Missing authorization header", s.logger)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(w, "Invalid authorization header format", s.logger)
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.authToken)) != 1 {
			response.Unauthorized(w, "Invalid token", s.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}
