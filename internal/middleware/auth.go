package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/radiusdt/email-analytics/internal/config"
	"go.uber.org/zap"
)

const (
	// AuthHeaderName is the HTTP header carrying the API key.
	AuthHeaderName = "X-API-Key"

	// AuthQueryParam is the query parameter fallback for the API key.
	AuthQueryParam = "api_key"
)

// AuthMiddleware validates API key authentication. Webhook paths are
// normally skipped because deliveries carry their own signature.
type AuthMiddleware struct {
	cfg    config.AuthConfig
	logger *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

// Handler wraps an http.Handler with authentication.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || a.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(AuthHeaderName)
		if apiKey == "" {
			apiKey = r.URL.Query().Get(AuthQueryParam)
		}

		if apiKey == "" {
			a.unauthorized(w, "missing API key")
			return
		}
		if !a.validateKey(apiKey) {
			a.logger.Warn("invalid API key attempt",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			a.unauthorized(w, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) validateKey(key string) bool {
	if a.cfg.MasterKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.MasterKey)) == 1
}

// shouldSkip matches exact paths, or prefixes for entries ending in "/".
func (a *AuthMiddleware) shouldSkip(path string) bool {
	for _, skip := range a.cfg.SkipPaths {
		if strings.HasSuffix(skip, "/") {
			if strings.HasPrefix(path, skip) {
				return true
			}
			continue
		}
		if path == skip {
			return true
		}
	}
	return false
}

func (a *AuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "ApiKey")
	writeError(w, http.StatusUnauthorized, message)
}
