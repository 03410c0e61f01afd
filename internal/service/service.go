package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/cache"
	"github.com/kjstillabower/forecast-gateway/internal/client"
	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
	"github.com/kjstillabower/forecast-gateway/internal/ratelimit"
	"github.com/kjstillabower/forecast-gateway/internal/translate"
)

// Admitter decides whether a client may make another request.
type Admitter interface {
	Admit(clientID string) ratelimit.Decision
}

// PayloadCache is the response cache specialised to provider payloads.
type PayloadCache = cache.ResponseCache[*client.OneCallResponse]

// Config wires a WeatherGateway. Limiter and Shared are optional; pass an
// untyped nil to disable them.
type Config struct {
	Client  client.WeatherClient
	Cache   *PayloadCache
	Limiter Admitter
	Shared  cache.SharedStore
	// TTLs bound how old a shared-tier payload may be for each facet.
	TTLs   map[models.Facet]time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

// WeatherGateway serves current, hourly and daily weather for a coordinate:
// validate, admit, then read through the response cache to the provider.
type WeatherGateway struct {
	client  client.WeatherClient
	cache   *PayloadCache
	limiter Admitter
	shared  cache.SharedStore
	ttls    map[models.Facet]time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Result is a translated response plus the caller's remaining allowance.
// Remaining is -1 when rate limiting is disabled.
type Result struct {
	Facet     models.Facet
	Body      any
	Remaining int
}

func NewWeatherGateway(cfg Config) (*WeatherGateway, error) {
	if cfg.Client == nil {
		return nil, errors.New("gateway: client is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("gateway: cache is required")
	}
	g := &WeatherGateway{
		client:  cfg.Client,
		cache:   cfg.Cache,
		limiter: cfg.Limiter,
		shared:  cfg.Shared,
		ttls:    cfg.TTLs,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

func (g *WeatherGateway) Current(ctx context.Context, clientID string, coord models.Coordinate) (*models.CurrentWeatherResponse, error) {
	res, err := g.Fetch(ctx, models.FacetCurrent, clientID, coord)
	if err != nil {
		return nil, err
	}
	return res.Body.(*models.CurrentWeatherResponse), nil
}

func (g *WeatherGateway) Hourly(ctx context.Context, clientID string, coord models.Coordinate) (*models.HourlyWeatherResponse, error) {
	res, err := g.Fetch(ctx, models.FacetHourly, clientID, coord)
	if err != nil {
		return nil, err
	}
	return res.Body.(*models.HourlyWeatherResponse), nil
}

func (g *WeatherGateway) Daily(ctx context.Context, clientID string, coord models.Coordinate) (*models.DailyWeatherResponse, error) {
	res, err := g.Fetch(ctx, models.FacetDaily, clientID, coord)
	if err != nil {
		return nil, err
	}
	return res.Body.(*models.DailyWeatherResponse), nil
}

// Fetch serves one facet for clientID. Invalid input is rejected before the
// client is charged a token.
func (g *WeatherGateway) Fetch(ctx context.Context, facet models.Facet, clientID string, coord models.Coordinate) (*Result, error) {
	logger := observability.LoggerFromContext(ctx, g.logger)

	if !facet.Valid() {
		return nil, g.done(facet, &ValidationError{Field: "facet", Message: fmt.Sprintf("unknown facet %q", facet)})
	}
	if err := validateCoordinate(coord); err != nil {
		return nil, g.done(facet, err)
	}
	coord = models.NewCoordinate(coord.Latitude, coord.Longitude)

	remaining := -1
	if g.limiter != nil {
		d := g.limiter.Admit(clientID)
		if !d.Allowed {
			logger.Debug("rate limited", zap.String("client_id", clientID), zap.Duration("retry_after", d.RetryAfter))
			return nil, g.done(facet, &RateLimitedError{RetryAfter: d.RetryAfter})
		}
		remaining = d.Remaining
	}

	key := models.NewCacheKey(facet, coord)
	p, err := g.cache.GetOrLoad(ctx, key, func(lctx context.Context) (*client.OneCallResponse, error) {
		return g.load(lctx, facet, coord)
	})
	if err != nil {
		err = classify(err)
		logger.Debug("weather request failed", zap.String("key", key.String()), zap.Error(err))
		return nil, g.done(facet, err)
	}

	body, err := translate.Translate(p, facet)
	if err != nil {
		return nil, g.done(facet, fmt.Errorf("%w: %w", ErrCacheLoadFailed, err))
	}
	g.done(facet, nil)
	return &Result{Facet: facet, Body: body, Remaining: remaining}, nil
}

// Warm loads every facet for coord without charging any client. One provider
// payload serves all facets it covers.
func (g *WeatherGateway) Warm(ctx context.Context, coord models.Coordinate) error {
	if err := validateCoordinate(coord); err != nil {
		return err
	}
	coord = models.NewCoordinate(coord.Latitude, coord.Longitude)

	var fetched *client.OneCallResponse
	var errs []error
	for _, facet := range models.Facets() {
		prev := fetched
		p, err := g.cache.GetOrLoad(ctx, models.NewCacheKey(facet, coord), func(lctx context.Context) (*client.OneCallResponse, error) {
			if prev.Has(facet) && g.fresh(prev, facet) {
				return prev, nil
			}
			return g.load(lctx, facet, coord)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", facet, classify(err)))
			continue
		}
		fetched = p
	}
	return errors.Join(errs...)
}

// load is the cache loader: shared tier first, then the provider. A payload
// without the requested section fails the load so nothing is cached for it.
func (g *WeatherGateway) load(ctx context.Context, facet models.Facet, coord models.Coordinate) (*client.OneCallResponse, error) {
	if p := g.sharedGet(ctx, facet, coord); p != nil {
		return p, nil
	}

	p, err := g.client.FetchOneCall(ctx, coord)
	if err != nil {
		return nil, err
	}
	if !p.Has(facet) {
		return nil, &ValidationError{Message: fmt.Sprintf("No %s data available for this location", facet.Description())}
	}
	g.sharedSet(ctx, coord, p)
	return p, nil
}

func (g *WeatherGateway) sharedGet(ctx context.Context, facet models.Facet, coord models.Coordinate) *client.OneCallResponse {
	if g.shared == nil {
		return nil
	}
	backend := g.shared.Backend()
	raw, ok, err := g.shared.Get(ctx, sharedKey(coord))
	if err != nil {
		observability.SharedCacheRequestsTotal.WithLabelValues(backend, "error").Inc()
		g.logger.Warn("shared cache read failed", zap.String("backend", backend), zap.Error(err))
		return nil
	}
	if !ok {
		observability.SharedCacheRequestsTotal.WithLabelValues(backend, "miss").Inc()
		return nil
	}
	var p client.OneCallResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		observability.SharedCacheRequestsTotal.WithLabelValues(backend, "error").Inc()
		g.logger.Warn("shared cache entry unreadable", zap.String("backend", backend), zap.Error(err))
		return nil
	}
	if !p.Has(facet) || !g.fresh(&p, facet) {
		observability.SharedCacheRequestsTotal.WithLabelValues(backend, "stale").Inc()
		return nil
	}
	observability.SharedCacheRequestsTotal.WithLabelValues(backend, "hit").Inc()
	return &p
}

func (g *WeatherGateway) sharedSet(ctx context.Context, coord models.Coordinate, p *client.OneCallResponse) {
	if g.shared == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		g.logger.Warn("shared cache encode failed", zap.Error(err))
		return
	}
	if err := g.shared.Set(ctx, sharedKey(coord), raw, g.maxTTL()); err != nil {
		g.logger.Warn("shared cache write failed", zap.String("backend", g.shared.Backend()), zap.Error(err))
	}
}

// fresh reports whether p is still younger than facet's TTL.
func (g *WeatherGateway) fresh(p *client.OneCallResponse, facet models.Facet) bool {
	ttl := g.ttls[facet]
	return ttl > 0 && g.now().Sub(p.FetchedAt) < ttl
}

func (g *WeatherGateway) maxTTL() time.Duration {
	var m time.Duration
	for _, ttl := range g.ttls {
		m = max(m, ttl)
	}
	return m
}

// done records the request outcome and returns err unchanged.
func (g *WeatherGateway) done(facet models.Facet, err error) error {
	observability.GatewayRequestsTotal.WithLabelValues(string(facet), outcome(err)).Inc()
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamFatal):
		return "upstream_fatal"
	case errors.Is(err, ErrUpstreamExhausted):
		return "upstream_exhausted"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

func validateCoordinate(c models.Coordinate) error {
	if err := c.Validate(); err != nil {
		field := "latitude"
		if errors.Is(err, models.ErrLongitudeOutOfRange) {
			field = "longitude"
		}
		return &ValidationError{Field: field, Message: err.Error()}
	}
	return nil
}

// sharedKey is per coordinate: one payload covers every facet.
func sharedKey(coord models.Coordinate) string {
	return "onecall:" + coord.String()
}
