package upstream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/collabdocs/balancer/internal/state"
)

// Telemetry wraps a Server and measures how long each forwarded request
// takes. The measurement is logged only when debug mode is enabled.
type Telemetry struct {
	next   Server
	state  *state.State
	logger *slog.Logger
}

func NewTelemetry(next Server, st *state.State, logger *slog.Logger) *Telemetry {
	return &Telemetry{next: next, state: st, logger: logger}
}

func (t *Telemetry) Address() string {
	return t.next.Address()
}

func (t *Telemetry) IsAlive() bool {
	return t.next.IsAlive()
}

func (t *Telemetry) Serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	t.next.Serve(w, r)
	duration := time.Since(start)

	if t.state.DebugEnabled() {
		t.logger.Debug("Upstream latency",
			slog.String("upstream", t.next.Address()),
			slog.Duration("duration", duration))
	}
}

// Logging wraps a Server, counts the forwarded request in the global
// counter and writes an access-log line before delegating. Because this
// happens at Serve time it counts forwarded requests only.
type Logging struct {
	next   Server
	state  *state.State
	logger *slog.Logger
}

func NewLogging(next Server, st *state.State, logger *slog.Logger) *Logging {
	return &Logging{next: next, state: st, logger: logger}
}

func (l *Logging) Address() string {
	return l.next.Address()
}

func (l *Logging) IsAlive() bool {
	return l.next.IsAlive()
}

func (l *Logging) Serve(w http.ResponseWriter, r *http.Request) {
	l.state.IncrementRequests()

	l.logger.Info("Forwarding request",
		slog.String("method", r.Method),
		slog.String("upstream", l.next.Address()))

	l.next.Serve(w, r)
}

// Chain composes the standard middleware order Logging(Telemetry(server)).
func Chain(server Server, st *state.State, logger *slog.Logger) Server {
	return NewLogging(NewTelemetry(server, st, logger), st, logger)
}
