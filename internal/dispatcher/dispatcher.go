package dispatcher

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/collabdocs/balancer/internal/metrics"
	"github.com/collabdocs/balancer/internal/state"
	"github.com/collabdocs/balancer/internal/upstream"
)

const (
	defaultStickyCapacity = 8192
	defaultSampleSize     = 1024
)

var ErrNoUpstreams = errors.New("dispatcher requires at least one upstream")

// Dispatcher routes inbound traffic across a fixed, ordered set of
// upstreams. HTTP and WebSocket traffic advance independent round-robin
// cursors; requests that carry a session identifier stick to the upstream
// they were first routed to for as long as it stays alive.
type Dispatcher struct {
	logger    *slog.Logger
	state     *state.State
	collector *metrics.Collector

	mutex      sync.Mutex
	servers    []upstream.Server
	byAddress  map[string]upstream.Server
	httpCursor int
	wsCursor   int

	stickyMutex sync.Mutex
	sessions    *expirable.LRU[string, string]
	tokens      *expirable.LRU[string, string]

	sampleMutex sync.Mutex
	sampleBuf   []byte
}

// Options carries the sticky-table bounds and optional wiring.
type Options struct {
	StickyCapacity int
	StickyTTL      time.Duration
	SampleSize     int
	Collector      *metrics.Collector
}

// New creates a Dispatcher over the given upstreams. An empty upstream list
// is a construction error; callers treat it as fatal.
func New(servers []upstream.Server, st *state.State, logger *slog.Logger, opts Options) (*Dispatcher, error) {
	if len(servers) == 0 {
		return nil, ErrNoUpstreams
	}

	if opts.StickyCapacity <= 0 {
		opts.StickyCapacity = defaultStickyCapacity
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}

	byAddress := make(map[string]upstream.Server, len(servers))
	for _, srv := range servers {
		byAddress[srv.Address()] = srv
	}

	return &Dispatcher{
		logger:    logger,
		state:     st,
		collector: opts.Collector,
		servers:   servers,
		byAddress: byAddress,
		sessions:  expirable.NewLRU[string, string](opts.StickyCapacity, nil, opts.StickyTTL),
		tokens:    expirable.NewLRU[string, string](opts.StickyCapacity, nil, opts.StickyTTL),
		sampleBuf: make([]byte, opts.SampleSize),
	}, nil
}

// SelectUpstream scans the upstream ring starting at the cursor for the
// given traffic class and returns the first alive upstream, advancing that
// cursor. HTTP advances by 1; WebSocket advances by the configured step so
// long-lived connections spread further around the ring. With no upstream
// alive it returns the first upstream as a deterministic fallback and
// restores the HTTP cursor instead of advancing it, so recovery is not
// masked by cursor drift.
func (d *Dispatcher) SelectUpstream(isWebSocket bool) upstream.Server {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	wsStep, httpReset := d.state.Tunables()
	count := len(d.servers)

	cursor := d.httpCursor
	if isWebSocket {
		cursor = d.wsCursor
	}

	for i := 0; i < count; i++ {
		idx := (cursor + i) % count
		candidate := d.servers[idx]

		// The TTL cache inside IsAlive makes this scan cheap for all
		// but the one caller that refreshes a stale entry.
		if candidate.IsAlive() {
			if isWebSocket {
				d.wsCursor = (idx + wsStep) % count
			} else {
				d.httpCursor = (idx + 1) % count
			}

			d.emitHealth(candidate.Address(), true)
			d.emit(metrics.Event{
				Type:      metrics.EventUpstreamSelected,
				Timestamp: time.Now(),
				Upstream:  candidate.Address(),
			})
			return candidate
		}

		d.emitHealth(candidate.Address(), false)
	}

	if !isWebSocket {
		d.httpCursor = httpReset % count
	}

	d.logger.Error("No upstream alive, using deterministic fallback",
		slog.String("fallback", d.servers[0].Address()))

	return d.servers[0]
}

// RouteForSession returns the upstream affined to the given session
// identifier, creating the association on first routing. A sticky target
// that died is replaced through a fresh selection, and the new association
// overwrites the old one.
func (d *Dispatcher) RouteForSession(sessionID string, isWebSocket bool) upstream.Server {
	srv, _ := d.routeForSession(sessionID, isWebSocket)
	return srv
}

// routeForSession additionally returns the connection token minted for a
// newly created association, or "" when an existing one was reused.
func (d *Dispatcher) routeForSession(sessionID string, isWebSocket bool) (upstream.Server, string) {
	id := strings.TrimSpace(sessionID)

	d.stickyMutex.Lock()
	defer d.stickyMutex.Unlock()

	if addr, ok := d.sessions.Get(id); ok {
		if srv, ok := d.byAddress[addr]; ok && srv.IsAlive() {
			return srv, ""
		}
	}

	chosen := d.SelectUpstream(isWebSocket)
	d.sessions.Add(id, chosen.Address())

	token := uuid.Must(uuid.NewV4()).String()
	d.tokens.Add(token, chosen.Address())

	d.emit(metrics.Event{
		Type:      metrics.EventSessionPinned,
		Timestamp: time.Now(),
		Upstream:  chosen.Address(),
	})

	return chosen, token
}

// UpstreamForToken resolves a connection token recorded by RouteForSession
// back to its upstream, without needing the session identifier.
func (d *Dispatcher) UpstreamForToken(token string) (upstream.Server, bool) {
	d.stickyMutex.Lock()
	defer d.stickyMutex.Unlock()

	addr, ok := d.tokens.Get(token)
	if !ok {
		return nil, false
	}

	srv, ok := d.byAddress[addr]
	return srv, ok
}

// StickySessions returns the number of live session associations.
func (d *Dispatcher) StickySessions() int {
	d.stickyMutex.Lock()
	defer d.stickyMutex.Unlock()
	return d.sessions.Len()
}

// ServeHTTP routes the request sticky when it carries a document_id query
// parameter and round robin otherwise, then forwards it through the chosen
// upstream's middleware chain. The balancer always forwards: a dead
// backend's own failure propagates to the client rather than a synthesized
// error.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)
	docID := strings.TrimSpace(r.URL.Query().Get("document_id"))

	d.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("document_id", docID))

	var target upstream.Server
	if docID != "" {
		var token string
		target, token = d.routeForSession(docID, isWebSocketUpgrade(r))
		if token != "" {
			w.Header().Set("X-Connection-Token", token)
		}
	} else {
		target = d.SelectUpstream(false)
	}

	d.emit(metrics.Event{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Upstream:  target.Address(),
	})

	w.Header().Set("X-Backend-Server", target.Address())

	wrapped := newSamplingWriter(w, &d.sampleMutex, d.sampleBuf)
	start := time.Now()

	target.Serve(wrapped, r)

	d.emit(metrics.Event{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Upstream:   target.Address(),
		Duration:   time.Since(start),
		StatusCode: wrapped.status(),
	})
}

// Sample returns a copy of the most recently sampled response bytes.
func (d *Dispatcher) Sample() []byte {
	d.sampleMutex.Lock()
	defer d.sampleMutex.Unlock()

	out := make([]byte, len(d.sampleBuf))
	copy(out, d.sampleBuf)
	return out
}

func (d *Dispatcher) emit(event metrics.Event) {
	if d.collector == nil {
		return
	}

	select {
	case d.collector.EventChannel() <- event:
	default:
	}
}

func (d *Dispatcher) emitHealth(address string, alive bool) {
	d.emit(metrics.Event{
		Type:      metrics.EventHealthObserved,
		Timestamp: time.Now(),
		Upstream:  address,
		Healthy:   alive,
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
