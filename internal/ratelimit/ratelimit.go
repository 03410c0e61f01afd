// Package ratelimit admits or denies requests per client using token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-gateway/internal/observability"
)

const numShards = 32

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Remaining is the whole number of tokens left after an admitted request.
	Remaining int
	// RetryAfter is how long until one token is available; zero when Allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1, for the Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds() - 1e-9))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Config sizes the limiter.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration // defaults to one minute
	MaxClients        int           // bound on tracked buckets; defaults to 100000
}

// Limiter holds one token bucket per client id. Buckets start full, refill
// continuously and hold at most RequestsPerWindow tokens. The bucket registry
// is bounded: when full, the least recently seen client is dropped and starts
// over with a full bucket on its next request.
type Limiter struct {
	capacity int
	limit    rate.Limit
	now      func() time.Time
	shards   [numShards]shard
}

type shard struct {
	mu      sync.Mutex
	buckets *simplelru.LRU[string, *bucket]
}

type bucket struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// New validates cfg and returns a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.RequestsPerWindow <= 0 {
		return nil, errors.New("ratelimit: requests per window must be positive")
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 100000
	}
	perShard := (cfg.MaxClients + numShards - 1) / numShards

	l := &Limiter{
		capacity: cfg.RequestsPerWindow,
		limit:    rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		now:      time.Now,
	}
	for i := range l.shards {
		lru, err := simplelru.NewLRU[string, *bucket](perShard, func(string, *bucket) {
			observability.RateLimitClientEvictionsTotal.Inc()
			observability.RateLimitClients.Dec()
		})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: %w", err)
		}
		l.shards[i].buckets = lru
	}
	return l, nil
}

// WithClock replaces the time source. Intended for tests and simulations.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit consumes one token from clientID's bucket if one is available.
// Concurrent calls for the same client never admit more than the bucket holds.
func (l *Limiter) Admit(clientID string) Decision {
	now := l.now()
	b := l.bucket(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.lim.TokensAt(now)
	if tokens >= 1 {
		b.lim.AllowN(now, 1)
		observability.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true, Remaining: int(math.Floor(tokens - 1))}
	}

	wait := time.Duration(math.Ceil((1 - tokens) / float64(l.limit) * float64(time.Second)))
	observability.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
	return Decision{RetryAfter: wait}
}

// Clients returns the number of tracked buckets.
func (l *Limiter) Clients() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += s.buckets.Len()
		s.mu.Unlock()
	}
	return n
}

func (l *Limiter) bucket(clientID string) *bucket {
	s := &l.shards[xxhash.Sum64String(clientID)%numShards]
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets.Get(clientID); ok {
		return b
	}
	b := &bucket{lim: rate.NewLimiter(l.limit, l.capacity)}
	s.buckets.Add(clientID, b)
	observability.RateLimitClients.Inc()
	return b
}
