package middleware

import (
	"net/http"
	"strings"

	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter names used in logs and metrics.
const (
	LimiterIngest = "ingest"
	LimiterAPI    = "api"
)

// RateLimitMiddleware implements token bucket rate limiting with separate
// buckets for ingestion and query traffic.
type RateLimitMiddleware struct {
	cfg           config.RateLimitConfig
	logger        *zap.Logger
	metrics       *metrics.Metrics
	ingestLimiter *rate.Limiter
	apiLimiter    *rate.Limiter
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		ingestLimiter: rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
		apiLimiter:    rate.NewLimiter(rate.Limit(cfg.APIRPS), cfg.APIBurst),
	}
}

// Handler wraps an http.Handler with rate limiting. Health and metrics
// endpoints are never limited.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		name, limiter := LimiterAPI, rl.apiLimiter
		if isIngestEndpoint(r.URL.Path) {
			name, limiter = LimiterIngest, rl.ingestLimiter
		}

		if !limiter.Allow() {
			rl.metrics.RecordRateLimitHit(name)
			rl.logger.Warn("rate limit exceeded",
				zap.String("limiter", name),
				zap.String("path", r.URL.Path),
				zap.String("client_ip", clientIP(r)),
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isIngestEndpoint(path string) bool {
	return strings.HasPrefix(path, "/webhooks/") || strings.HasPrefix(path, "/diagnostics/")
}

// clientIP extracts the client IP, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
