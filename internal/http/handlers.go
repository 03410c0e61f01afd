package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-gateway/internal/client"
	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
	"github.com/kjstillabower/forecast-gateway/internal/service"
	"github.com/kjstillabower/forecast-gateway/internal/traffic"
	"github.com/kjstillabower/forecast-gateway/internal/validation"
)

// Gateway serves one facet for a resolved client.
type Gateway interface {
	Fetch(ctx context.Context, facet models.Facet, clientID string, coord models.Coordinate) (*service.Result, error)
}

// HealthConfig holds the inputs of the health decision. Zero values disable a check.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// BreakerState reports the upstream circuit. Nil when the breaker is disabled.
	BreakerState func() circuitbreaker.State
	// SharedPing checks the shared response tier. Nil when no shared tier is configured.
	SharedPing func(ctx context.Context) error
	Version    string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	gateway      Gateway
	tracker      *traffic.Tracker
	healthConfig *HealthConfig
	logger       *zap.Logger
	shuttingDown atomic.Bool

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and healthConfig may be nil.
func NewHandler(gateway Gateway, tracker *traffic.Tracker, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(0, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gateway:      gateway,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown flips /health to shutting-down.
func (h *Handler) SetShuttingDown(v bool) { h.shuttingDown.Store(v) }

// GetCurrent handles GET /api/weather/current.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	h.serveFacet(w, r, models.FacetCurrent)
}

// GetHourly handles GET /api/weather/hourly.
func (h *Handler) GetHourly(w http.ResponseWriter, r *http.Request) {
	h.serveFacet(w, r, models.FacetHourly)
}

// GetDaily handles GET /api/weather/daily.
func (h *Handler) GetDaily(w http.ResponseWriter, r *http.Request) {
	h.serveFacet(w, r, models.FacetDaily)
}

func (h *Handler) serveFacet(w http.ResponseWriter, r *http.Request, facet models.Facet) {
	q := r.URL.Query()
	coord, err := validation.ParseCoordinate(q.Get("latitude"), q.Get("longitude"))
	if err != nil {
		h.tracker.Record(traffic.Success)
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.gateway.Fetch(r.Context(), facet, ClientIDFromContext(r.Context()), coord)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	h.tracker.Record(traffic.Success)
	if res.Remaining >= 0 {
		w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(res.Remaining))
	}
	writeJSON(w, http.StatusOK, res.Body)
}

// errorResponse maps a gateway error to status, code and client-safe message.
func errorResponse(err error) (int, string, string) {
	var ve *service.ValidationError
	var rl *service.RateLimitedError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "INVALID_REQUEST", ve.Error()
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "RATE_LIMITED",
			"Rate limit exceeded. Retry after " + strconv.Itoa(rl.RetryAfterSeconds()) + " seconds."
	case errors.Is(err, service.ErrUpstreamFatal) && errors.Is(err, client.ErrLocationNotFound):
		return http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not found"
	case errors.Is(err, service.ErrUpstreamFatal):
		return http.StatusBadGateway, "UPSTREAM_REJECTED", "Weather provider rejected the request"
	case errors.Is(err, service.ErrUpstreamExhausted):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL", "Internal error"
	}
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorResponse(err)
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	switch {
	case status == http.StatusTooManyRequests:
		h.tracker.Record(traffic.Denied)
		var rl *service.RateLimitedError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
		}
	case status >= http.StatusInternalServerError:
		h.tracker.Record(traffic.Error)
		logger.Warn("weather request failed", zap.Int("status", status), zap.Error(err))
	default:
		h.tracker.Record(traffic.Success)
		logger.Debug("weather request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, r, status, code, message)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "forecast-gateway",
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, upstream circuit,
// shared tier reachability, recent error rate.
func (h *Handler) computeHealthStatus(ctx context.Context) (healthResult, map[string]string) {
	checks := map[string]string{"weatherApi": "healthy"}
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	cfg := h.healthConfig
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, ""}, checks
	}

	var result *healthResult
	degrade := func(reason string) {
		if result == nil {
			result = &healthResult{"degraded", http.StatusServiceUnavailable, reason}
		}
	}
	if cfg.BreakerState != nil && cfg.BreakerState() == circuitbreaker.StateOpen {
		checks["weatherApi"] = "unhealthy"
		degrade("circuit_open")
	}
	if cfg.SharedPing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := cfg.SharedPing(pingCtx)
		cancel()
		if err != nil {
			checks["cache"] = "unhealthy"
			degrade("shared_cache_unreachable")
		} else {
			checks["cache"] = "healthy"
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		counts := h.tracker.Counts(cfg.DegradedWindow)
		if counts.Error > 0 && counts.ErrorPercent() >= float64(cfg.DegradedErrorPct) {
			checks["weatherApi"] = "unhealthy"
			degrade("error_rate_breach")
		}
	}
	if result != nil {
		return *result, checks
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
