package traffic

import (
	"sync"
	"time"
)

// Tracker keeps sliding windows of timestamps for two streams: plant fetch
// outcomes recorded by the coordinator, and read API requests recorded by
// the rate limit middleware. Health checks derive degraded and overloaded
// states from them.
type Tracker struct {
	mu          sync.Mutex
	maxAge      time.Duration
	now         func() time.Time
	fetchOK     []time.Time
	fetchFailed []time.Time
	served      []time.Time
	denied      []time.Time
}

// NewTracker returns a Tracker that forgets outcomes older than maxAge.
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// RecordFetchSuccess records a plant fetch that returned a record.
func (t *Tracker) RecordFetchSuccess() {
	t.record(&t.fetchOK)
}

// RecordFetchError records a plant fetch that failed.
func (t *Tracker) RecordFetchError() {
	t.record(&t.fetchFailed)
}

// RecordServed records a read API request admitted by the rate limiter.
func (t *Tracker) RecordServed() {
	t.record(&t.served)
}

// RecordDenied records a read API request rejected with 429.
func (t *Tracker) RecordDenied() {
	t.record(&t.denied)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns read API requests (served + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.served, cutoff) + countSince(t.denied, cutoff)
}

// DenialCount returns read API denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denied, t.now().Add(-window))
}

// ErrorRate returns (failed, total) plant fetches within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failed := countSince(t.fetchFailed, cutoff)
	return failed, failed + countSince(t.fetchOK, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchOK, t.fetchFailed, t.served, t.denied = nil, nil, nil, nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.fetchOK)
	prune(&t.fetchFailed)
	prune(&t.served)
	prune(&t.denied)
}
