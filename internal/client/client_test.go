package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-gateway/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

const testAPIKey = "test-api-key-12345"

const sampleOneCall = `{
  "lat": 40.7128, "lon": -74.006, "timezone": "America/New_York", "timezone_offset": -14400,
  "current": {"dt": 1700000000, "temp": 12.5, "feels_like": 11.0, "pressure": 1015, "humidity": 70,
    "dew_point": 7.1, "clouds": 40, "visibility": 10000, "wind_speed": 3.6, "wind_deg": 220,
    "weather": [{"id": 802, "main": "Clouds", "description": "scattered clouds", "icon": "03d"}]},
  "hourly": [{"dt": 1700000000, "temp": 12.5, "feels_like": 11.0, "pressure": 1015, "humidity": 70,
    "dew_point": 7.1, "clouds": 40, "wind_speed": 3.6, "wind_deg": 220, "pop": 0.2, "rain": {"1h": 0.3},
    "weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}]}],
  "daily": [{"dt": 1700000000, "temp": {"morn": 8, "day": 13, "eve": 11, "night": 6, "min": 5, "max": 14},
    "feels_like": {"morn": 7, "day": 12, "eve": 10, "night": 5}, "pressure": 1015, "humidity": 60,
    "dew_point": 5, "wind_speed": 4.1, "wind_deg": 200, "clouds": 20, "pop": 0.1,
    "weather": [{"id": 800, "main": "Clear", "description": "clear sky", "icon": "01d"}]}]
}`

func newTestClient(t *testing.T, url string, policy RetryPolicy) *OneCallClient {
	t.Helper()
	c, err := New(Config{APIKey: testAPIKey, BaseURL: url, Timeout: 2 * time.Second, Retry: policy})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

var fastRetry = RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Backoff: BackoffFixed}

var nyc = models.NewCoordinate(40.7128, -74.0060)

// TestNew_InvalidAPIKey verifies key validation at construction.
func TestNew_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{"empty API key", "", ErrInvalidAPIKey},
		{"too short API key", "short", ErrInvalidAPIKey},
		{"valid API key", "valid-api-key-12345", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{APIKey: tt.apiKey, BaseURL: "https://api.test.com"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				if c != nil {
					t.Errorf("New() expected nil client on error")
				}
				return
			}
			if err != nil || c == nil {
				t.Fatalf("New() = %v, %v; want client", c, err)
			}
		})
	}
}

// TestFetchOneCall_Success verifies request parameters and payload decoding.
func TestFetchOneCall_Success(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header = %q, want application/json", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleOneCall))
	}))
	defer server.Close()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := New(Config{APIKey: testAPIKey, BaseURL: server.URL, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p, err := c.FetchOneCall(context.Background(), nyc)
	if err != nil {
		t.Fatalf("FetchOneCall() error = %v", err)
	}
	for _, want := range []string{"lat=40.7128", "lon=-74.0060", "appid=" + testAPIKey, "units=metric", "exclude=minutely%2Calerts"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if p.Current == nil || p.Current.Temp != 12.5 {
		t.Errorf("Current = %+v, want temp 12.5", p.Current)
	}
	if len(p.Hourly) != 1 || p.Hourly[0].Rain == nil || *p.Hourly[0].Rain.OneHour != 0.3 {
		t.Errorf("Hourly = %+v, want one entry with rain 0.3", p.Hourly)
	}
	if len(p.Daily) != 1 || p.Daily[0].Temp.Max != 14 {
		t.Errorf("Daily = %+v, want one entry with max 14", p.Daily)
	}
	if !p.FetchedAt.Equal(fixed) {
		t.Errorf("FetchedAt = %v, want %v", p.FetchedAt, fixed)
	}
	for _, f := range models.Facets() {
		if !p.Has(f) {
			t.Errorf("Has(%s) = false, want true", f)
		}
	}
}

// TestFetchOneCall_Classification verifies each status class maps to the right
// sentinel, retryability and attempt count.
func TestFetchOneCall_Classification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      error
		wantAttempts int32
		retryable    bool
	}{
		{"401 fatal", http.StatusUnauthorized, `{"cod":401}`, ErrInvalidAPIKey, 1, false},
		{"404 fatal", http.StatusNotFound, `{"cod":"404"}`, ErrLocationNotFound, 1, false},
		{"400 fatal with body", http.StatusBadRequest, `wrong latitude`, ErrClientError, 1, false},
		{"429 fatal", http.StatusTooManyRequests, `slow down`, ErrRateLimited, 1, false},
		{"500 retried", http.StatusInternalServerError, ``, ErrUpstreamFailure, 3, true},
		{"503 retried", http.StatusServiceUnavailable, ``, ErrUpstreamFailure, 3, true},
		{"empty 200 retried", http.StatusOK, "  ", ErrEmptyResponse, 3, true},
		{"malformed 200 retried", http.StatusOK, `{"current":`, ErrMalformedBody, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, fastRetry)
			_, err := c.FetchOneCall(context.Background(), nyc)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchOneCall() error = %v, want %v", err, tt.wantErr)
			}
			if got := atomic.LoadInt32(&attempts); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			if tt.retryable != errors.Is(err, ErrRetriesExhausted) {
				t.Errorf("errors.Is(err, ErrRetriesExhausted) = %v, want %v", !tt.retryable, tt.retryable)
			}
			if !tt.retryable && !IsFatal(err) {
				t.Errorf("IsFatal(%v) = false, want true", err)
			}
		})
	}
}

// TestFetchOneCall_FatalCarriesBody verifies other 4xx responses keep the provider's message.
func TestFetchOneCall_FatalCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"cod":"400","message":"wrong latitude"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, fastRetry).FetchOneCall(context.Background(), nyc)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error %v is not *UpstreamError", err)
	}
	if ue.StatusCode != http.StatusBadRequest || !strings.Contains(ue.Message, "wrong latitude") {
		t.Errorf("UpstreamError = %+v, want status 400 with body message", ue)
	}
}

// TestFetchOneCall_RetryThenSuccess verifies a retryable failure followed by success returns the payload.
func TestFetchOneCall_RetryThenSuccess(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleOneCall))
	}))
	defer server.Close()

	p, err := newTestClient(t, server.URL, fastRetry).FetchOneCall(context.Background(), nyc)
	if err != nil {
		t.Fatalf("FetchOneCall() error = %v", err)
	}
	if p == nil || p.Current == nil {
		t.Fatal("FetchOneCall() returned no current section")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

// TestFetchOneCall_NetworkErrorRetried verifies transport failures are retryable.
func TestFetchOneCall_NetworkErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url, RetryPolicy{MaxAttempts: 2, Backoff: BackoffFixed}).FetchOneCall(context.Background(), nyc)
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrNetwork) {
		t.Errorf("FetchOneCall() error = %v, want exhausted network error", err)
	}
}

// TestFetchOneCall_AttemptTimeout verifies a slow provider is cut off by the per-attempt timeout.
func TestFetchOneCall_AttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c, err := New(Config{APIKey: testAPIKey, BaseURL: server.URL, Timeout: 20 * time.Millisecond,
		Retry: RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond, Backoff: BackoffFixed}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = c.FetchOneCall(context.Background(), nyc)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("FetchOneCall() error = %v, want ErrRetriesExhausted", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %q, want %q", CategorizeError(err), ErrorCategoryTimeout)
	}
}

// TestFetchOneCall_ContextCancellation verifies cancellation stops retries immediately.
func TestFetchOneCall_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, RetryPolicy{MaxAttempts: 5, Delay: time.Second, Backoff: BackoffFixed})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.FetchOneCall(ctx, nyc)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("FetchOneCall() error = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("FetchOneCall() took %v, want prompt return on cancellation", time.Since(start))
	}
}

// TestFetchOneCall_CorrelationID verifies the correlation id is forwarded upstream.
func TestFetchOneCall_CorrelationID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(sampleOneCall))
	}))
	defer server.Close()

	ctx := context.WithValue(context.Background(), observability.CorrelationIDKey, "corr-42")
	if _, err := newTestClient(t, server.URL, fastRetry).FetchOneCall(ctx, nyc); err != nil {
		t.Fatalf("FetchOneCall() error = %v", err)
	}
	if got != "corr-42" {
		t.Errorf("X-Correlation-ID = %q, want %q", got, "corr-42")
	}
}

// TestFetchOneCall_CircuitBreakerOpens verifies repeated 5xx open the circuit and
// later calls fail fast without reaching the provider.
func TestFetchOneCall_CircuitBreakerOpens(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 3, Timeout: time.Hour, IsFailure: IsRetryable})
	c, err := New(Config{APIKey: testAPIKey, BaseURL: server.URL, Retry: fastRetry, Breaker: cb})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.FetchOneCall(context.Background(), nyc); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("first FetchOneCall() error = %v, want ErrRetriesExhausted", err)
	}
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", cb.State())
	}

	_, err = c.FetchOneCall(context.Background(), nyc)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second FetchOneCall() error = %v, want ErrCircuitOpen", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("provider attempts = %d, want 3", got)
	}
}

// TestFetchOneCall_FatalDoesNotTripBreaker verifies 404s leave the circuit closed.
func TestFetchOneCall_FatalDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour, IsFailure: IsRetryable})
	c, err := New(Config{APIKey: testAPIKey, BaseURL: server.URL, Retry: fastRetry, Breaker: cb})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.FetchOneCall(context.Background(), nyc); !errors.Is(err, ErrLocationNotFound) {
			t.Fatalf("FetchOneCall() error = %v, want ErrLocationNotFound", err)
		}
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

// TestValidateAPIKey verifies the single-call key check.
func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"valid", http.StatusOK, nil},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"server error", http.StatusInternalServerError, ErrUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK {
					_, _ = w.Write([]byte(sampleOneCall))
				}
			}))
			defer server.Close()

			err := newTestClient(t, server.URL, fastRetry).ValidateAPIKey(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateAPIKey() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
			if attempts != 1 {
				t.Errorf("attempts = %d, want 1", attempts)
			}
		})
	}
}

// TestOneCallResponse_Has verifies missing or empty sections are reported absent.
func TestOneCallResponse_Has(t *testing.T) {
	p := &OneCallResponse{Hourly: []HourlyConditions{}}
	for _, f := range models.Facets() {
		if p.Has(f) {
			t.Errorf("Has(%s) = true on empty payload", f)
		}
	}
	var nilPayload *OneCallResponse
	if nilPayload.Has(models.FacetCurrent) {
		t.Error("Has() on nil payload = true")
	}
}
