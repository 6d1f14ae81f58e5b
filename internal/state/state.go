package state

import (
	"sync"
	"sync/atomic"
)

// State carries the routing tunables shared between the dispatcher and the
// upstream middleware, plus the global request counter. One instance is
// constructed at bootstrap and passed by reference; there is no process-wide
// singleton, so tests can run with independent configurations.
type State struct {
	requestCounter atomic.Uint64

	mutex     sync.RWMutex
	wsStep    int
	httpReset int
	debugMode bool
}

// New creates a State with the given routing tunables.
// wsStep is the WebSocket round-robin cursor advance, httpReset the value the
// HTTP cursor is restored to when no upstream is alive.
func New(wsStep, httpReset int, debugMode bool) *State {
	if wsStep < 1 {
		wsStep = 1
	}

	return &State{
		wsStep:    wsStep,
		httpReset: httpReset,
		debugMode: debugMode,
	}
}

// IncrementRequests bumps the global forwarded-request counter.
func (s *State) IncrementRequests() {
	s.requestCounter.Add(1)
}

// Requests returns the number of requests forwarded so far. Monotonic for
// the process lifetime; used for observability only.
func (s *State) Requests() uint64 {
	return s.requestCounter.Load()
}

// Tunables returns the WebSocket cursor step and the HTTP cursor reset value.
func (s *State) Tunables() (wsStep, httpReset int) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.wsStep, s.httpReset
}

// DebugEnabled reports whether latency telemetry logging is on.
func (s *State) DebugEnabled() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.debugMode
}
