// Package httpserver exposes webhook ingestion and the analytics API over
// HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/email-analytics/internal/analytics"
	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/middleware"
	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/radiusdt/email-analytics/internal/webhook"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Services *analytics.Services
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Server wraps HTTP handlers and analytics services.
type Server struct {
	services *analytics.Services
	receiver *webhook.Receiver
	logger   *zap.Logger
	config   *config.Config
	metrics  *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		services: deps.Services,
		receiver: webhook.NewReceiver(deps.Services.Recorder, deps.Config.Webhook, deps.Metrics, deps.Logger.Named("webhook")),
		logger:   deps.Logger,
		config:   deps.Config,
		metrics:  deps.Metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, deps.Metrics.Handler())
	}

	// Ingestion
	mux.HandleFunc("/webhooks/{provider}", s.handleWebhook)
	mux.HandleFunc("/diagnostics/events", s.handleDiagnosticEvents)

	// Analytics
	mux.HandleFunc("/analytics/email", s.handleEmailAnalytics)
	mux.HandleFunc("/analytics/email/daily", s.handleDailyMetrics)
	mux.HandleFunc("/analytics/email/trends", s.handleEngagementTrends)
	mux.HandleFunc("/analytics/email/campaigns", s.handleCampaignAnalytics)

	// Maintenance
	mux.HandleFunc("/admin/reconcile", s.handleReconcile)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{
		"event_store":  "ok",
		"rollup_store": "ok",
	}
	status := "ok"
	if err := s.services.Events.Ping(ctx); err != nil {
		checks["event_store"] = err.Error()
		status = "degraded"
	}
	if err := s.services.Rollups.Ping(ctx); err != nil {
		checks["rollup_store"] = err.Error()
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
		s.logger.Warn("health check failed", zap.Any("checks", checks))
	}
	s.writeJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}

// ---- Ingestion ----

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := strings.ToLower(r.PathValue("provider"))

	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := http.StatusOK
	defer func() {
		s.metrics.RecordWebhook(provider, status, time.Since(start))
	}()

	body, ok := s.readBody(w, r)
	if !ok {
		status = http.StatusRequestEntityTooLarge
		return
	}

	signature := r.Header.Get(s.config.Webhook.SignatureHeader)
	result, err := s.receiver.Receive(r.Context(), provider, body, signature)
	if err != nil {
		status = s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, result)
}

func (s *Server) handleDiagnosticEvents(w http.ResponseWriter, r *http.Request) {
	if !s.config.Diagnostics.Enabled {
		s.errorResponse(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	result, err := s.receiver.ReceiveDiagnostic(r.Context(), body)
	if err != nil {
		s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, result)
}

// readBody reads at most MaxBodyBytes. It writes the error response itself
// and reports false when the body could not be read.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, "payload too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		s.errorResponse(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// ---- Analytics ----

func (s *Server) handleEmailAnalytics(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	res, err := s.services.Query.EmailAnalytics(r.Context(), start, end)
	if err != nil {
		s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, res)
}

func (s *Server) handleDailyMetrics(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	days, err := s.services.Query.DailyEmailMetrics(r.Context(), start, end)
	if err != nil {
		s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"start_date": models.FormatDate(start),
		"end_date":   models.FormatDate(end),
		"days":       days,
	})
}

func (s *Server) handleEngagementTrends(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	trends, err := s.services.Query.EngagementTrends(r.Context(), start, end)
	if err != nil {
		s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"start_date": models.FormatDate(start),
		"end_date":   models.FormatDate(end),
		"trends":     trends,
	})
}

type campaignRequest struct {
	CampaignIDs []string `json:"campaign_ids"`
}

func (s *Server) handleCampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	var ids []string

	switch r.Method {
	case http.MethodGet:
		for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	case http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		var req campaignRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		ids = req.CampaignIDs
	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	campaigns, err := s.services.Query.CampaignAnalytics(r.Context(), ids)
	if err != nil {
		s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"campaigns": campaigns})
}

// ---- Maintenance ----

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	start, end, err := s.services.Query.ResolveRange(q.Get("start"), q.Get("end"))
	if err != nil {
		s.appError(w, r, err)
		return
	}

	force := false
	if v := q.Get("force"); v != "" {
		force, err = strconv.ParseBool(v)
		if err != nil {
			s.appError(w, r, apperr.Validation("force", "must be a boolean"))
			return
		}
	}

	report, err := s.services.Reconciler.Reconcile(r.Context(), start, end, force)
	if err != nil {
		s.appError(w, r, err)
		return
	}
	s.jsonResponse(w, report)
}

// ---- Helper Methods ----

// rangeParams resolves start and end for GET range queries.
func (s *Server) rangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return time.Time{}, time.Time{}, false
	}

	q := r.URL.Query()
	start, end, err := s.services.Query.ResolveRange(q.Get("start"), q.Get("end"))
	if err != nil {
		s.appError(w, r, err)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// appError maps err to a status and a caller-safe message and returns the
// status written.
func (s *Server) appError(w http.ResponseWriter, r *http.Request, err error) int {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	s.errorResponse(w, apperr.PublicMessage(err), code)
	return code
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
