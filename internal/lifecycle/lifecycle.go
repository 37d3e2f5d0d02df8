package lifecycle

import (
	"sync/atomic"
	"time"
)

// State tracks process lifecycle for health reporting.
type State struct {
	started      time.Time
	shuttingDown atomic.Bool
	now          func() time.Time
}

// New returns a State whose uptime starts now.
func New() *State {
	return &State{started: time.Now(), now: time.Now}
}

// BeginShutdown marks the process as draining. Call when SIGTERM/SIGINT is received;
// /health then answers 503 shutting_down so load balancers stop routing here.
func (s *State) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// ShuttingDown reports whether the process is draining.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Uptime returns time since New.
func (s *State) Uptime() time.Duration {
	return s.now().Sub(s.started)
}
