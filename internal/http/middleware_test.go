package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

func TestResolveClientID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"api key wins", map[string]string{"X-API-Key": " key-1 ", "X-Forwarded-For": "1.1.1.1"}, "9.9.9.9:1234", "api_key:key-1"},
		{"left-most forwarded hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "9.9.9.9:1234", "ip:203.0.113.7"},
		{"empty forwarded falls back", map[string]string{"X-Forwarded-For": " , 10.0.0.1"}, "9.9.9.9:1234", "ip:9.9.9.9"},
		{"peer address", nil, "192.0.2.1:5555", "ip:192.0.2.1"},
		{"ipv6 peer", nil, "[2001:db8::1]:443", "ip:2001:db8::1"},
		{"peer without port", nil, "192.0.2.1", "ip:192.0.2.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := resolveClientID(req); got != tc.want {
				t.Errorf("resolveClientID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIdentityMiddleware_SetsContext(t *testing.T) {
	var got string
	h := ClientIdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIDFromContext(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "api_key:abc" {
		t.Errorf("ClientIDFromContext() = %q, want api_key:abc", got)
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var gotID string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		gotID = observability.CorrelationIDFromContext(r.Context())
		observability.LoggerFromContext(r.Context(), nil).Info("inside")
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if gotID != "client-provided-id" {
		t.Errorf("context correlation id = %q", gotID)
	}
	entries := logs.FilterMessage("inside").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "client-provided-id" {
		t.Errorf("request logger missing correlation_id: %v", entries)
	}
}

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	if got := w.Header().Get("X-Correlation-ID"); len(got) != 36 {
		t.Errorf("generated X-Correlation-ID = %q, want a UUID", got)
	}
}

func TestMiddleware_MetricsRecordsRouteTemplate(t *testing.T) {
	inflight := &InFlightTracker{}
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware(inflight))
	router.HandleFunc("/api/weather/current", func(w http.ResponseWriter, r *http.Request) {
		during = inflight.Count()
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues("GET", "/api/weather/current", "5xx")
	before := testutil.ToFloat64(counter)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/weather/current?latitude=1", nil))

	if during != 1 {
		t.Errorf("in-flight during handler = %d, want 1", during)
	}
	if inflight.Count() != 0 {
		t.Errorf("in-flight after handler = %d, want 0", inflight.Count())
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("httpRequestsTotal delta = %v, want 1", got)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	h := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !hasDeadline {
		t.Error("request context has no deadline")
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 404: "4xx", 503: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}
