package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-gateway/internal/models"
	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

var (
	// ErrUnknownFacet is returned for keys whose facet was not configured.
	ErrUnknownFacet = errors.New("unknown cache facet")
	// ErrInvalidCapacity is returned by New when a facet's MaxEntries is not positive.
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
)

// EvictionCause says why an entry left the cache.
type EvictionCause string

const (
	CauseExpired  EvictionCause = "expired"
	CauseCapacity EvictionCause = "capacity"
)

// Eviction describes one removed entry.
type Eviction struct {
	Facet models.Facet
	Key   string
	Cause EvictionCause
}

// Timestamped values report their own creation time. The cache ages such
// values from that time instead of from insertion.
type Timestamped interface {
	Timestamp() time.Time
}

// Loader produces the value for a missing key.
type Loader[V any] func(ctx context.Context) (V, error)

// FacetConfig bounds one facet's store. A zero TTL disables storage for the facet.
type FacetConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// Options carries the optional collaborators of a ResponseCache.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// OnEvict runs with the facet lock held and must not call back into the cache.
	OnEvict func(Eviction)
}

// ResponseCache keeps one bounded, expiring store per facet and collapses
// concurrent loads of the same key into one loader call.
type ResponseCache[V any] struct {
	stores  map[models.Facet]*store[V]
	logger  *zap.Logger
	now     func() time.Time
	onEvict func(Eviction)
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// call is one in-flight load. value and err are written before done is closed.
type call[V any] struct {
	done    chan struct{}
	value   V
	err     error
	waiters int
}

// store guards one facet. mu covers both the LRU and the in-flight map so a
// miss and the leader's registration happen atomically.
type store[V any] struct {
	facet      models.Facet
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries *simplelru.LRU[string, entry[V]]
	flights map[string]*call[V]
}

// New builds a cache with one store per configured facet.
func New[V any](facets map[models.Facet]FacetConfig, opts Options) (*ResponseCache[V], error) {
	if len(facets) == 0 {
		return nil, fmt.Errorf("cache: no facets configured")
	}
	c := &ResponseCache[V]{
		stores:  make(map[models.Facet]*store[V], len(facets)),
		logger:  opts.Logger,
		now:     opts.Now,
		onEvict: opts.OnEvict,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	for facet, fc := range facets {
		if fc.MaxEntries <= 0 {
			return nil, fmt.Errorf("%w: facet %s has max entries %d", ErrInvalidCapacity, facet, fc.MaxEntries)
		}
		if fc.TTL < 0 {
			return nil, fmt.Errorf("cache: facet %s has negative ttl %v", facet, fc.TTL)
		}
		lru, err := simplelru.NewLRU[string, entry[V]](fc.MaxEntries, nil)
		if err != nil {
			return nil, fmt.Errorf("cache: facet %s: %w", facet, err)
		}
		c.stores[facet] = &store[V]{
			facet:      facet,
			ttl:        fc.TTL,
			maxEntries: fc.MaxEntries,
			entries:    lru,
			flights:    make(map[string]*call[V]),
		}
	}
	return c, nil
}

func (c *ResponseCache[V]) store(facet models.Facet) (*store[V], error) {
	s, ok := c.stores[facet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFacet, facet)
	}
	return s, nil
}

// GetOrLoad returns the live entry for key, or runs loader once for all
// concurrent callers of the same key and shares its outcome. The load runs
// detached from ctx: a caller whose ctx ends stops waiting, but the load
// continues for the others. Failures are never stored.
func (c *ResponseCache[V]) GetOrLoad(ctx context.Context, key models.CacheKey, loader Loader[V]) (V, error) {
	var zero V
	s, err := c.store(key.Facet)
	if err != nil {
		return zero, err
	}
	k := key.String()
	facet := string(key.Facet)

	s.mu.Lock()
	if v, ok := c.liveLocked(s, k); ok {
		s.mu.Unlock()
		observability.CacheHitsTotal.WithLabelValues(facet).Inc()
		return v, nil
	}
	if cl, ok := s.flights[k]; ok {
		cl.waiters++
		s.mu.Unlock()
		observability.CacheCoalescedTotal.WithLabelValues(facet).Inc()
		c.logger.Debug("joining in-flight load", zap.String("key", k))
		return wait(ctx, cl)
	}
	cl := &call[V]{done: make(chan struct{})}
	s.flights[k] = cl
	s.mu.Unlock()

	observability.CacheMissesTotal.WithLabelValues(facet).Inc()
	c.logger.Debug("cache miss, loading", zap.String("key", k))
	go c.load(context.WithoutCancel(ctx), s, k, cl, loader)
	return wait(ctx, cl)
}

func wait[V any](ctx context.Context, cl *call[V]) (V, error) {
	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *ResponseCache[V]) load(ctx context.Context, s *store[V], k string, cl *call[V], loader Loader[V]) {
	var (
		value V
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache loader panic: %v", r)
			}
		}()
		value, err = loader(ctx)
	}()

	s.mu.Lock()
	if err == nil {
		c.installLocked(s, k, value)
	}
	delete(s.flights, k)
	cl.value, cl.err = value, err
	s.mu.Unlock()
	close(cl.done)

	if cl.waiters > 0 {
		c.logger.Debug("load shared", zap.String("key", k), zap.Int("waiters", cl.waiters), zap.Bool("ok", err == nil))
	}
}

// Get returns the live entry for key without loading.
func (c *ResponseCache[V]) Get(key models.CacheKey) (V, bool) {
	var zero V
	s, err := c.store(key.Facet)
	if err != nil {
		return zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.liveLocked(s, key.String())
}

// Put stores value under key, replacing any existing entry.
func (c *ResponseCache[V]) Put(key models.CacheKey, value V) error {
	s, err := c.store(key.Facet)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.installLocked(s, key.String(), value)
	return nil
}

// Len returns the number of entries held for facet, expired ones included until touched.
func (c *ResponseCache[V]) Len(facet models.Facet) int {
	s, err := c.store(facet)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// InFlight returns the number of loads currently running for facet.
func (c *ResponseCache[V]) InFlight(facet models.Facet) int {
	s, err := c.store(facet)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flights)
}

// liveLocked returns the entry for k if it is younger than the facet TTL,
// removing it when it has expired. Caller holds s.mu.
func (c *ResponseCache[V]) liveLocked(s *store[V], k string) (V, bool) {
	var zero V
	e, ok := s.entries.Get(k)
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.storedAt) >= s.ttl {
		s.entries.Remove(k)
		c.evicted(s, k, CauseExpired)
		return zero, false
	}
	return e.value, true
}

// installLocked inserts or replaces k, evicting the least recently used entry
// when the facet is full. Caller holds s.mu.
func (c *ResponseCache[V]) installLocked(s *store[V], k string, value V) {
	if s.ttl <= 0 {
		return
	}
	storedAt := c.now()
	if ts, ok := any(value).(Timestamped); ok {
		if t := ts.Timestamp(); !t.IsZero() && t.Before(storedAt) {
			storedAt = t
		}
	}
	if !s.entries.Contains(k) && s.entries.Len() >= s.maxEntries {
		if oldest, _, ok := s.entries.RemoveOldest(); ok {
			c.evicted(s, oldest, CauseCapacity)
		}
	}
	s.entries.Add(k, entry[V]{value: value, storedAt: storedAt})
	observability.CacheEntries.WithLabelValues(string(s.facet)).Set(float64(s.entries.Len()))
}

func (c *ResponseCache[V]) evicted(s *store[V], k string, cause EvictionCause) {
	facet := string(s.facet)
	observability.CacheEvictionsTotal.WithLabelValues(facet, string(cause)).Inc()
	observability.CacheEntries.WithLabelValues(facet).Set(float64(s.entries.Len()))
	c.logger.Debug("cache entry evicted", zap.String("facet", facet), zap.String("key", k), zap.String("cause", string(cause)))
	if c.onEvict != nil {
		c.onEvict(Eviction{Facet: s.facet, Key: k, Cause: cause})
	}
}
