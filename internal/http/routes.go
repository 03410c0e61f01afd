package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

// NewRouter mounts the weather API, /health and /metrics. The request timeout
// and client identity apply to the weather routes only.
func NewRouter(h *Handler, logger *zap.Logger, inflight *InFlightTracker, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware(inflight))
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.PathPrefix("/api/weather").Subrouter()
	api.Use(ClientIdentityMiddleware)
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/current", h.GetCurrent).Methods("GET")
	api.HandleFunc("/hourly", h.GetHourly).Methods("GET")
	api.HandleFunc("/daily", h.GetDaily).Methods("GET")
	return router
}
