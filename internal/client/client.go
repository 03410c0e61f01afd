package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

// WeatherClient fetches the provider's combined payload for a coordinate.
type WeatherClient interface {
	FetchOneCall(ctx context.Context, coord models.Coordinate) (*OneCallResponse, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrRateLimited      = errors.New("rate limited by provider")
	ErrClientError      = errors.New("request rejected by provider")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrEmptyResponse    = errors.New("empty response from provider")
	ErrMalformedBody    = errors.New("malformed response from provider")
	ErrNetwork          = errors.New("network error")
	ErrRetriesExhausted = errors.New("exhausted retries")
	ErrCircuitOpen      = errors.New("upstream circuit open")
)

// UpstreamError is the classified outcome of one failed attempt.
// Retryable failures are worth another attempt; the rest are final.
type UpstreamError struct {
	Retryable  bool
	StatusCode int // 0 for transport failures
	Message    string
	Err        error // sentinel
	cause      error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

// IsRetryable reports whether err is a classified failure worth retrying.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Retryable
}

// IsFatal reports whether err is a classified failure that must not be retried.
func IsFatal(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && !ue.Retryable
}

const (
	defaultBaseURL = "https://api.openweathermap.org/data/3.0/onecall"
	maxBodyBytes   = 4 << 20
	maxMessageLen  = 512
)

// Config configures an OneCallClient.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration // per attempt
	Units   string
	Exclude string
	Retry   RetryPolicy
	Breaker *circuitbreaker.CircuitBreaker // optional

	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// OneCallClient calls the provider's OneCall endpoint with classification and retries.
type OneCallClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	units   string
	exclude string
	retry   RetryPolicy
	breaker *circuitbreaker.CircuitBreaker
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// New validates cfg and returns a client.
func New(cfg Config) (*OneCallClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Exclude == "" {
		cfg.Exclude = "minutely,alerts"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newOutbound()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &OneCallClient{
		apiKey:  cfg.APIKey,
		apiURL:  cfg.BaseURL,
		timeout: cfg.Timeout,
		units:   cfg.Units,
		exclude: cfg.Exclude,
		retry:   cfg.Retry.withDefaults(),
		breaker: cfg.Breaker,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

func newOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// FetchOneCall retrieves the payload for coord, retrying retryable failures
// according to the client's RetryPolicy.
func (c *OneCallClient) FetchOneCall(ctx context.Context, coord models.Coordinate) (*OneCallResponse, error) {
	onRetry := func(attempt int, err error) {
		observability.UpstreamRetriesTotal.Inc()
		observability.LoggerFromContext(ctx, c.logger).Warn("retrying upstream call",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.retry.MaxAttempts),
			zap.String("coordinate", coord.String()),
			zap.Error(err))
	}
	return Retry(ctx, c.retry, onRetry, func(ctx context.Context) (*OneCallResponse, error) {
		return c.attempt(ctx, coord)
	})
}

// attempt runs one call, through the circuit breaker when one is configured.
func (c *OneCallClient) attempt(ctx context.Context, coord models.Coordinate) (*OneCallResponse, error) {
	if c.breaker == nil {
		return c.fetchOnce(ctx, coord)
	}
	var result *OneCallResponse
	err := c.breaker.Call(ctx, func() error {
		var err error
		result, err = c.fetchOnce(ctx, coord)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.UpstreamErrorsTotal.WithLabelValues(string(ErrorCategoryCircuitOpen)).Inc()
		return nil, ErrCircuitOpen
	}
	return result, err
}

// fetchOnce performs a single request and classifies the outcome.
func (c *OneCallClient) fetchOnce(ctx context.Context, coord models.Coordinate) (*OneCallResponse, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, coord)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.observe("error", start)
		return nil, c.fail(&UpstreamError{Retryable: true, Err: ErrNetwork, Message: "request failed", cause: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe("error", start)
		return nil, c.fail(&UpstreamError{Retryable: true, StatusCode: resp.StatusCode, Err: ErrNetwork, Message: "read body", cause: err})
	}
	c.observe(statusLabel(resp.StatusCode), start)

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, c.fail(err)
	}

	var payload OneCallResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, c.fail(&UpstreamError{Retryable: true, StatusCode: resp.StatusCode, Err: ErrMalformedBody, cause: err})
	}
	payload.FetchedAt = c.now().UTC()
	return &payload, nil
}

func (c *OneCallClient) observe(status string, start time.Time) {
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (c *OneCallClient) fail(err *UpstreamError) error {
	observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

// classifyStatus maps a response to nil (usable payload) or an *UpstreamError.
func classifyStatus(status int, body []byte) *UpstreamError {
	switch {
	case status >= 200 && status < 300:
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return &UpstreamError{Retryable: true, StatusCode: status, Err: ErrEmptyResponse}
		}
		return nil
	case status == http.StatusUnauthorized:
		return &UpstreamError{StatusCode: status, Err: ErrInvalidAPIKey}
	case status == http.StatusNotFound:
		return &UpstreamError{StatusCode: status, Err: ErrLocationNotFound}
	case status == http.StatusTooManyRequests:
		return &UpstreamError{StatusCode: status, Err: ErrRateLimited, Message: bodyMessage(body)}
	case status >= 400 && status < 500:
		return &UpstreamError{StatusCode: status, Err: ErrClientError, Message: bodyMessage(body)}
	default:
		return &UpstreamError{Retryable: true, StatusCode: status, Err: ErrUpstreamFailure}
	}
}

func bodyMessage(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}

func (c *OneCallClient) buildRequest(ctx context.Context, coord models.Coordinate) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("lat", coord.LatString())
	params.Set("lon", coord.LonString())
	params.Set("appid", c.apiKey)
	params.Set("units", c.units)
	params.Set("exclude", c.exclude)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one unretried call and reports whether the provider accepts the key.
func (c *OneCallClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.fetchOnce(ctx, models.NewCoordinate(51.5074, -0.1278))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidAPIKey) {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	return fmt.Errorf("validation failed: %w", err)
}
