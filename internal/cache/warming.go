package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

// Prefetcher is implemented by the service layer to load every facet for a coordinate.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type Prefetcher interface {
	Warm(ctx context.Context, coord models.Coordinate) error
}

// CacheWarmer prefetches a fixed list of coordinates so popular places are
// served from cache.
type CacheWarmer struct {
	fetcher   Prefetcher
	coords    []models.Coordinate
	timeout   time.Duration
	logger    *zap.Logger
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds one warming run.
func NewCacheWarmer(fetcher Prefetcher, coords []models.Coordinate, timeout time.Duration, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{fetcher: fetcher, coords: coords, timeout: timeout, logger: logger}
}

// Warm fetches every coordinate concurrently. Returns an aggregated error if any failed.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("coordinates", len(w.coords)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(w.coords))
	for _, coord := range w.coords {
		coord := coord
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.fetcher.Warm(ctx, coord); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", coord, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("coordinates", len(w.coords)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// StartPeriodic runs Warm now and then every interval until Stop.
// Runs never overlap.
func (w *CacheWarmer) StartPeriodic(interval time.Duration) error {
	if len(w.coords) == 0 {
		w.logger.Info("cache warming: no coordinates configured; nothing to schedule")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("cache warming: interval must be positive, got %v", interval)
	}

	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.scheduler = s
	s.StartAsync()
	return nil
}

// Stop cancels future runs. A run already in progress finishes on its own.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
