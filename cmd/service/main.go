package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/cache"
	"github.com/kjstillabower/forecast-gateway/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-gateway/internal/client"
	"github.com/kjstillabower/forecast-gateway/internal/config"
	httphandler "github.com/kjstillabower/forecast-gateway/internal/http"
	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
	"github.com/kjstillabower/forecast-gateway/internal/ratelimit"
	"github.com/kjstillabower/forecast-gateway/internal/service"
	"github.com/kjstillabower/forecast-gateway/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "weather_api",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String())
				logger.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
			},
			IsFailure: client.IsRetryable,
		})
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	weatherClient, err := client.New(client.Config{
		APIKey:  cfg.WeatherAPIKey,
		BaseURL: cfg.WeatherAPIURL,
		Timeout: cfg.WeatherAPITimeout,
		Units:   cfg.WeatherAPIUnits,
		Exclude: cfg.WeatherAPIExclude,
		Retry: client.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Backoff:     client.Backoff(cfg.RetryBackoff),
		},
		Breaker: breaker,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	validateCtx, validateCancel := context.WithTimeout(context.Background(), cfg.WeatherAPITimeout+time.Second)
	if err := weatherClient.ValidateAPIKey(validateCtx); err != nil {
		logger.Warn("API key check failed; serving anyway", zap.Error(err))
	}
	validateCancel()

	facets := make(map[models.Facet]cache.FacetConfig, len(cfg.Facets))
	ttls := make(map[models.Facet]time.Duration, len(cfg.Facets))
	for facet, fc := range cfg.Facets {
		facets[facet] = cache.FacetConfig{TTL: fc.TTL, MaxEntries: fc.MaxEntries}
		ttls[facet] = fc.TTL
	}
	responseCache, err := cache.New[*client.OneCallResponse](facets, cache.Options{Logger: logger})
	if err != nil {
		logger.Fatal("response cache", zap.Error(err))
	}

	shared, err := openSharedStore(cfg)
	if err != nil {
		logger.Fatal("shared cache", zap.String("backend", cfg.SharedBackend), zap.Error(err))
	}
	if shared != nil {
		logger.Info("shared cache enabled", zap.String("backend", shared.Backend()), zap.String("addrs", cfg.SharedAddrs))
	}

	gatewayCfg := service.Config{
		Client: weatherClient,
		Cache:  responseCache,
		Shared: shared,
		TTLs:   ttls,
		Logger: logger,
	}
	if cfg.RateLimitEnabled {
		limiter, err := ratelimit.New(ratelimit.Config{
			RequestsPerWindow: cfg.RateLimitRPM,
			Window:            cfg.RateLimitWindow,
			MaxClients:        cfg.RateLimitMaxClients,
		})
		if err != nil {
			logger.Fatal("rate limiter", zap.Error(err))
		}
		gatewayCfg.Limiter = limiter
		logger.Info("rate limiting enabled", zap.Int("requests_per_window", cfg.RateLimitRPM), zap.Duration("window", cfg.RateLimitWindow))
	}
	gateway, err := service.NewWeatherGateway(gatewayCfg)
	if err != nil {
		logger.Fatal("gateway", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Version:          version,
	}
	if breaker != nil {
		healthConfig.BreakerState = breaker.State
	}
	if shared != nil {
		healthConfig.SharedPing = shared.Ping
	}

	tracker := traffic.NewTracker(cfg.DegradedWindow, nil)
	handler := httphandler.NewHandler(gateway, tracker, healthConfig, logger)
	inflight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, logger, inflight, cfg.RequestTimeout)

	var warmer *cache.CacheWarmer
	if cfg.WarmEnabled && len(cfg.WarmCoordinates) > 0 {
		warmer = cache.NewCacheWarmer(gateway, cfg.WarmCoordinates, 30*time.Second, logger)
		if cfg.WarmInterval > 0 {
			// gocron runs the first warm immediately.
			if err := warmer.StartPeriodic(cfg.WarmInterval); err != nil {
				logger.Error("periodic cache warming not started", zap.Error(err))
			}
		} else {
			warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := warmer.Warm(warmCtx); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	remaining := inflight.Count()
	logger.Info("waiting for in-flight requests", zap.Int64("count", remaining))
	observability.RecordShutdownInFlight(remaining)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inflight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inflight.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if shared != nil {
		if err := shared.Close(); err != nil {
			logger.Error("shared cache close", zap.String("backend", shared.Backend()), zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// openSharedStore returns nil when no shared tier is configured. The nil is
// untyped so the gateway sees a disabled tier rather than a nil pointer.
func openSharedStore(cfg *config.Config) (cache.SharedStore, error) {
	switch cfg.SharedBackend {
	case "memcached":
		return cache.NewMemcachedStore(cfg.SharedAddrs, cfg.SharedTimeout, cfg.SharedMaxIdleConns), nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := cache.NewRedisStore(ctx, cfg.SharedAddrs,
			cache.WithRedisTimeout(cfg.SharedTimeout),
			cache.WithRedisPoolSize(cfg.SharedMaxIdleConns),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}
