package lifecycle

import (
	"testing"
	"time"
)

func TestShuttingDown_DefaultFalse(t *testing.T) {
	s := New()
	if s.ShuttingDown() {
		t.Error("ShuttingDown() = true, want false by default")
	}
}

func TestBeginShutdown(t *testing.T) {
	s := New()
	s.BeginShutdown()
	if !s.ShuttingDown() {
		t.Error("ShuttingDown() = false after BeginShutdown, want true")
	}
}

func TestUptime(t *testing.T) {
	s := New()
	s.now = func() time.Time { return s.started.Add(90 * time.Second) }
	if got := s.Uptime(); got != 90*time.Second {
		t.Errorf("Uptime() = %v, want 90s", got)
	}
}
