package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/forecast-gateway/internal/models"
)

// FacetCache bounds one facet of the response cache. TTL 0 disables storage.
type FacetCache struct {
	TTL        time.Duration
	MaxEntries int
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string
	LogLevel   string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherAPIUnits   string
	WeatherAPIExclude string

	RequestTimeout time.Duration

	Facets map[models.Facet]FacetCache

	SharedBackend      string // "none", "memcached" or "redis"
	SharedAddrs        string
	SharedTimeout      time.Duration
	SharedMaxIdleConns int

	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	RetryBackoff  string // "fixed" or "exponential"

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitEnabled    bool
	RateLimitRPM        int
	RateLimitWindow     time.Duration
	RateLimitMaxClients int

	WarmEnabled     bool
	WarmInterval    time.Duration
	WarmCoordinates []models.Coordinate

	DegradedWindow   time.Duration
	DegradedErrorPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type facetFile struct {
	TTL        string `yaml:"ttl"`
	MaxEntries *int   `yaml:"max_entries"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		Units   string `yaml:"units"`
		Exclude string `yaml:"exclude"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		TTL        string               `yaml:"ttl"`
		MaxEntries *int                 `yaml:"max_entries"`
		Facets     map[string]facetFile `yaml:"facets"`
		Shared     struct {
			Backend      string `yaml:"backend"`
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"shared"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts *int   `yaml:"retry_max_attempts"`
		RetryDelay       string `yaml:"retry_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RetryBackoff     string `yaml:"retry_backoff"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	RateLimit struct {
		Enabled           *bool  `yaml:"enabled"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		Window            string `yaml:"window"`
		MaxClients        int    `yaml:"max_clients"`
	} `yaml:"rate_limit"`

	Warming struct {
		Enabled     bool   `yaml:"enabled"`
		Interval    string `yaml:"interval"`
		Coordinates []struct {
			Latitude  float64 `yaml:"latitude"`
			Longitude float64 `yaml:"longitude"`
		} `yaml:"coordinates"`
	} `yaml:"warming"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. API key comes from WEATHER_API_KEY env or the secrets file.
// Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.Logging.Level, "INFO")

	cfg.WeatherAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/3.0/onecall")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)
	cfg.WeatherAPIUnits = firstNonEmpty(fc.WeatherAPI.Units, "metric")
	cfg.WeatherAPIExclude = firstNonEmpty(fc.WeatherAPI.Exclude, "minutely,alerts")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	defaultTTL := parseDurationOrZero(fc.Cache.TTL, 10*time.Minute)
	defaultMax := 1000
	if fc.Cache.MaxEntries != nil {
		defaultMax = *fc.Cache.MaxEntries
	}
	cfg.Facets = make(map[models.Facet]FacetCache, len(models.Facets()))
	for _, facet := range models.Facets() {
		fcache := FacetCache{TTL: defaultTTL, MaxEntries: defaultMax}
		if ff, ok := fc.Cache.Facets[string(facet)]; ok {
			fcache.TTL = parseDurationOrZero(ff.TTL, defaultTTL)
			if ff.MaxEntries != nil {
				fcache.MaxEntries = *ff.MaxEntries
			}
		}
		cfg.Facets[facet] = fcache
	}
	for name := range fc.Cache.Facets {
		if !models.Facet(name).Valid() {
			return nil, fmt.Errorf("cache.facets: unknown facet %q", name)
		}
	}

	cfg.SharedBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_SHARED_BACKEND"), fc.Cache.Shared.Backend, "none"))
	cfg.SharedAddrs = firstNonEmpty(os.Getenv("CACHE_SHARED_ADDRS"), fc.Cache.Shared.Addrs)
	cfg.SharedTimeout = parseDuration(fc.Cache.Shared.Timeout, 500*time.Millisecond)
	cfg.SharedMaxIdleConns = fc.Cache.Shared.MaxIdleConns
	if cfg.SharedMaxIdleConns <= 0 {
		cfg.SharedMaxIdleConns = 2
	}

	cfg.RetryAttempts = 3
	if fc.Reliability.RetryMaxAttempts != nil {
		cfg.RetryAttempts = *fc.Reliability.RetryMaxAttempts
	}
	cfg.RetryDelay = parseDuration(fc.Reliability.RetryDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RetryBackoff = strings.ToLower(firstNonEmpty(fc.Reliability.RetryBackoff, "exponential"))

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.RateLimitEnabled = true
	if fc.RateLimit.Enabled != nil {
		cfg.RateLimitEnabled = *fc.RateLimit.Enabled
	}
	cfg.RateLimitRPM = fc.RateLimit.RequestsPerMinute
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPM")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_RPM must be an integer, got %q", v)
		}
		cfg.RateLimitRPM = n
	} else if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 60
	}
	cfg.RateLimitWindow = parseDuration(fc.RateLimit.Window, time.Minute)
	cfg.RateLimitMaxClients = fc.RateLimit.MaxClients
	if cfg.RateLimitMaxClients <= 0 {
		cfg.RateLimitMaxClients = 100000
	}

	cfg.WarmEnabled = fc.Warming.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 0)
	for _, c := range fc.Warming.Coordinates {
		cfg.WarmCoordinates = append(cfg.WarmCoordinates, models.NewCoordinate(c.Latitude, c.Longitude))
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKey(cwd string) (string, error) {
	if key := os.Getenv("WEATHER_API_KEY"); key != "" {
		return key, nil
	}
	data, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.WeatherAPIKey, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is for validate to judge. A bare "0" is zero.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate rejects unusable values. RequestTimeout is raised above the
// upstream timeout rather than rejected.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	for _, facet := range models.Facets() {
		fcache := cfg.Facets[facet]
		if fcache.MaxEntries <= 0 {
			return fmt.Errorf("cache %s: max_entries must be positive, got %d", facet, fcache.MaxEntries)
		}
		if fcache.TTL < 0 {
			return fmt.Errorf("cache %s: ttl must not be negative, got %v", facet, fcache.TTL)
		}
	}
	switch cfg.SharedBackend {
	case "none":
	case "memcached", "redis":
		if cfg.SharedAddrs == "" {
			return fmt.Errorf("cache.shared.addrs required for backend %s", cfg.SharedBackend)
		}
	default:
		return fmt.Errorf("cache.shared.backend must be none, memcached or redis, got %q", cfg.SharedBackend)
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("reliability.retry_max_attempts must be at least 1, got %d", cfg.RetryAttempts)
	}
	switch cfg.RetryBackoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("reliability.retry_backoff must be fixed or exponential, got %q", cfg.RetryBackoff)
	}
	if cfg.RateLimitEnabled && cfg.RateLimitRPM <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive, got %d", cfg.RateLimitRPM)
	}
	for _, c := range cfg.WarmCoordinates {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("warming.coordinates %s: %w", c, err)
		}
	}
	return nil
}
