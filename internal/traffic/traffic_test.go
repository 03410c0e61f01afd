package traffic

import (
	"sync"
	"testing"
	"time"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewTracker(5*time.Minute, clock.Now), clock
}

// TestCounts_Empty verifies an unused tracker reports nothing.
func TestCounts_Empty(t *testing.T) {
	tr, _ := newTestTracker()
	if c := tr.Counts(time.Minute); c != (Counts{}) {
		t.Errorf("Counts() = %+v, want zero", c)
	}
}

// TestRecord_TalliesByOutcome verifies each outcome lands in its own bucket.
func TestRecord_TalliesByOutcome(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Success)
	tr.Record(Success)
	tr.Record(Error)
	tr.Record(Denied)
	tr.Record(Outcome(9))

	c := tr.Counts(time.Minute)
	if c != (Counts{Success: 2, Error: 1, Denied: 1}) {
		t.Errorf("Counts() = %+v", c)
	}
	if c.Total() != 4 {
		t.Errorf("Total() = %d, want 4", c.Total())
	}
}

// TestCounts_Window verifies outcomes outside the window are not counted.
func TestCounts_Window(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Error)
	clock.Advance(90 * time.Second)
	tr.Record(Success)

	if c := tr.Counts(time.Minute); c.Error != 0 || c.Success != 1 {
		t.Errorf("Counts(1m) = %+v, want only the recent success", c)
	}
	if c := tr.Counts(2 * time.Minute); c.Error != 1 || c.Success != 1 {
		t.Errorf("Counts(2m) = %+v, want both", c)
	}
}

// TestRecord_PrunesPastRetention verifies old outcomes are dropped on the next record.
func TestRecord_PrunesPastRetention(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Error)
	clock.Advance(6 * time.Minute)
	tr.Record(Success)

	if c := tr.Counts(time.Hour); c.Error != 0 {
		t.Errorf("Counts(1h).Error = %d, want 0 after retention", c.Error)
	}
}

func TestCounts_ErrorPercent(t *testing.T) {
	tests := []struct {
		c    Counts
		want float64
	}{
		{Counts{}, 0},
		{Counts{Denied: 10}, 0},
		{Counts{Success: 3, Error: 1}, 25},
		{Counts{Error: 2, Denied: 5}, 100},
	}
	for _, tt := range tests {
		if got := tt.c.ErrorPercent(); got != tt.want {
			t.Errorf("%+v.ErrorPercent() = %v, want %v", tt.c, got, tt.want)
		}
	}
}

// TestReset verifies Reset clears every outcome.
func TestReset(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Success)
	tr.Record(Denied)
	tr.Reset()
	if c := tr.Counts(time.Minute); c.Total() != 0 {
		t.Errorf("Counts() after Reset = %+v", c)
	}
}

// TestRecord_Concurrent verifies concurrent records are all counted.
func TestRecord_Concurrent(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(Success)
		}()
	}
	wg.Wait()
	if c := tr.Counts(time.Minute); c.Success != 50 {
		t.Errorf("Success = %d, want 50", c.Success)
	}
}
