//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/forecast-gateway/internal/cache"
	"github.com/kjstillabower/forecast-gateway/internal/client"
	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	SharedBackend string // "", "memcached" or "redis"
	SharedAddr    string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	backend := os.Getenv("INTEGRATION_SHARED_BACKEND")
	addr := os.Getenv("INTEGRATION_SHARED_ADDRS")
	if addr == "" {
		switch backend {
		case "memcached":
			addr = "localhost:11211"
		case "redis":
			addr = "localhost:6379"
		}
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        os.Getenv("WEATHER_API_URL"),
		SharedBackend: backend,
		SharedAddr:    addr,
	}
}

// SetupIntegrationGateway builds a gateway against the live provider with a
// five minute TTL on every facet and no rate limiting. The shared tier is
// attached when configured and reachable; otherwise the test runs without it.
func SetupIntegrationGateway(t *testing.T, cfg IntegrationTestConfig) *service.WeatherGateway {
	t.Helper()
	logger := zaptest.NewLogger(t)

	weatherClient := SetupIntegrationClient(t, cfg)

	facets := make(map[models.Facet]cache.FacetConfig)
	ttls := make(map[models.Facet]time.Duration)
	for _, f := range models.Facets() {
		facets[f] = cache.FacetConfig{TTL: 5 * time.Minute, MaxEntries: 100}
		ttls[f] = 5 * time.Minute
	}
	responseCache, err := cache.New[*client.OneCallResponse](facets, cache.Options{Logger: logger})
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}

	gcfg := service.Config{
		Client: weatherClient,
		Cache:  responseCache,
		TTLs:   ttls,
		Logger: logger,
	}
	if shared := openShared(t, cfg); shared != nil {
		gcfg.Shared = shared
		t.Cleanup(func() { _ = shared.Close() })
	}

	gateway, err := service.NewWeatherGateway(gcfg)
	if err != nil {
		t.Fatalf("NewWeatherGateway() error = %v", err)
	}
	return gateway
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OneCallClient {
	t.Helper()
	c, err := client.New(client.Config{APIKey: cfg.APIKey, BaseURL: cfg.APIURL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func openShared(t *testing.T, cfg IntegrationTestConfig) cache.SharedStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch cfg.SharedBackend {
	case "memcached":
		s := cache.NewMemcachedStore(cfg.SharedAddr, 500*time.Millisecond, 2)
		if err := s.Ping(ctx); err != nil {
			t.Logf("memcached not available (%v), running without shared tier", err)
			_ = s.Close()
			return nil
		}
		return s
	case "redis":
		s, err := cache.NewRedisStore(ctx, cfg.SharedAddr)
		if err != nil {
			t.Logf("redis not available (%v), running without shared tier", err)
			return nil
		}
		return s
	default:
		return nil
	}
}
