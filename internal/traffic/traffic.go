// Package traffic keeps sliding windows of request outcomes for health reporting.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome int

const (
	// Success covers served responses and caller mistakes (4xx other than 429).
	Success Outcome = iota
	// Error covers failures attributable to the gateway or its upstream (5xx).
	Error
	// Denied covers rate-limit rejections.
	Denied
)

const defaultRetention = 5 * time.Minute

// Counts is a window's tally per outcome.
type Counts struct {
	Success int
	Error   int
	Denied  int
}

// Total returns every outcome in the window, denials included.
func (c Counts) Total() int { return c.Success + c.Error + c.Denied }

// ErrorPercent returns errors as a percentage of successes plus errors.
// Denials are excluded. Returns 0 with no traffic.
func (c Counts) ErrorPercent() float64 {
	n := c.Success + c.Error
	if n == 0 {
		return 0
	}
	return float64(c.Error) * 100 / float64(n)
}

// Tracker records outcome timestamps and prunes those older than its retention.
type Tracker struct {
	retention time.Duration
	now       func() time.Time

	mu    sync.Mutex
	times [3][]time.Time
}

// NewTracker returns a Tracker that keeps outcomes for retention (default 5m).
// A nil now uses time.Now.
func NewTracker(retention time.Duration, now func() time.Time) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{retention: retention, now: now}
}

func (t *Tracker) Record(o Outcome) {
	if o < Success || o > Denied {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Counts tallies outcomes recorded within window of now. Windows longer than
// the retention see only retained outcomes.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Counts{
		Success: countSince(t.times[Success], cutoff),
		Error:   countSince(t.times[Error], cutoff),
		Denied:  countSince(t.times[Denied], cutoff),
	}
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = [3][]time.Time{}
}

// countSince counts timestamps at or after cutoff. Slices are in record order.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(times) - 1; i >= 0 && !times[i].Before(cutoff); i-- {
		n++
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Caller holds t.mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
