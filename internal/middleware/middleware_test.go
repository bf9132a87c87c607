package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret-key",
		SkipPaths: []string{"/health", "/webhooks/"},
	}, zap.NewNop())
	h := auth.Handler(okHandler)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid header", "/analytics/email", "secret-key", http.StatusOK},
		{"valid query", "/analytics/email?api_key=secret-key", "", http.StatusOK},
		{"missing key", "/analytics/email", "", http.StatusUnauthorized},
		{"wrong key", "/analytics/email", "nope", http.StatusUnauthorized},
		{"skipped exact", "/health", "", http.StatusOK},
		{"skipped prefix", "/webhooks/sendgrid", "", http.StatusOK},
		{"exact skip is not a prefix", "/healthz", "", http.StatusUnauthorized},
		{"diagnostics need a key", "/diagnostics/events", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderName, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "ApiKey", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	h := NewAuthMiddleware(config.AuthConfig{Enabled: false}, zap.NewNop()).Handler(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/reconcile", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_SeparateBuckets(t *testing.T) {
	m := metrics.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	rl := NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:     true,
		IngestRPS:   0.001,
		IngestBurst: 1,
		APIRPS:      0.001,
		APIBurst:    2,
	}, m, zap.NewNop())
	h := rl.Handler(okHandler)

	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/webhooks/generic").Code)
	limited := do("/diagnostics/events")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do("/analytics/email").Code)
	assert.Equal(t, http.StatusOK, do("/analytics/email").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("/analytics/email").Code)

	assert.Equal(t, http.StatusOK, do("/health").Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues(LimiterIngest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues(LimiterAPI)))
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	var seen string
	h := NewLoggingMiddleware(zap.New(core)).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/email", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, int64(http.StatusTeapot), entries[0].ContextMap()["status"])
	assert.Equal(t, seen, entries[0].ContextMap()["request_id"])

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := NewRecoveryMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
