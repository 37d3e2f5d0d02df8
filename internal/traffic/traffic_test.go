package traffic

import (
	"testing"
	"time"
)

func newTestTracker() (*Tracker, *time.Time) {
	now := time.Unix(10_000, 0)
	tr := NewTracker(10 * time.Minute)
	tr.now = func() time.Time { return now }
	return tr, &now
}

// TestRequestCount_Empty verifies an unused tracker reports nothing.
func TestRequestCount_Empty(t *testing.T) {
	tr, _ := newTestTracker()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
	if e, total := tr.ErrorRate(time.Minute); e != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", e, total)
	}
}

// TestRecordServedAndDenied verifies denials count toward requests.
func TestRecordServedAndDenied(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordServed()
	tr.RecordDenied()
	tr.RecordDenied()

	if n := tr.DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := tr.RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
}

// TestErrorRate_FetchOutcomesOnly verifies read API traffic does not dilute
// the fetch error rate.
func TestErrorRate_FetchOutcomesOnly(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordFetchSuccess()
	tr.RecordFetchSuccess()
	tr.RecordFetchError()
	tr.RecordServed()
	tr.RecordDenied()

	errors, total := tr.ErrorRate(time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

// TestWindowAndPrune verifies windows exclude old outcomes and maxAge prunes them.
func TestWindowAndPrune(t *testing.T) {
	tr, now := newTestTracker()
	tr.RecordFetchError()
	*now = now.Add(2 * time.Minute)
	tr.RecordFetchSuccess()

	if e, total := tr.ErrorRate(time.Minute); e != 0 || total != 1 {
		t.Errorf("ErrorRate(1m) = (%d, %d), want (0, 1)", e, total)
	}
	if e, total := tr.ErrorRate(5 * time.Minute); e != 1 || total != 2 {
		t.Errorf("ErrorRate(5m) = (%d, %d), want (1, 2)", e, total)
	}

	*now = now.Add(20 * time.Minute)
	tr.RecordServed()
	if len(tr.fetchFailed) != 0 || len(tr.fetchOK) != 0 {
		t.Errorf("old outcomes not pruned: %d failed, %d ok", len(tr.fetchFailed), len(tr.fetchOK))
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordFetchError()
	tr.RecordDenied()
	tr.Reset()
	if tr.DenialCount(time.Hour) != 0 {
		t.Error("DenialCount() after Reset should be 0")
	}
	if e, _ := tr.ErrorRate(time.Hour); e != 0 {
		t.Error("ErrorRate() after Reset should be 0")
	}
}
