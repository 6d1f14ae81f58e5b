package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

const (
	DefaultHealthTTL    = 1 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

// Server is the capability set shared by upstreams and the middleware that
// wraps them.
type Server interface {
	Address() string
	IsAlive() bool
	Serve(w http.ResponseWriter, r *http.Request)
}

// Upstream represents one backend server behind the balancer. It owns a
// TTL-cached liveness flag and forwards requests through a reverse proxy
// that transparently supports WebSocket upgrades.
type Upstream struct {
	address string
	url     *url.URL
	proxy   *httputil.ReverseProxy
	client  *http.Client
	ttl     time.Duration

	mutex       sync.Mutex
	lastChecked time.Time
	alive       bool
}

// Options carries the health-check tunables. Zero values fall back to the
// package defaults.
type Options struct {
	HealthTTL    time.Duration
	ProbeTimeout time.Duration
}

// New creates an Upstream for the given base URL. An unparseable URL or one
// without scheme/host is a construction error; membership is fixed at
// startup, so callers treat this as fatal.
func New(rawURL string, opts Options) (*Upstream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q: %w", rawURL, errMissingHost)
	}

	if opts.HealthTTL <= 0 {
		opts.HealthTTL = DefaultHealthTTL
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}

	return &Upstream{
		address: rawURL,
		url:     u,
		proxy:   httputil.NewSingleHostReverseProxy(u),
		client:  &http.Client{Timeout: opts.ProbeTimeout},
		ttl:     opts.HealthTTL,
	}, nil
}

// Address returns the backend's base address.
func (u *Upstream) Address() string {
	return u.address
}

// IsAlive returns the backend's liveness, probing GET {address}/health when
// the cached value is older than the TTL. The whole check-and-refresh
// sequence runs under one lock: the first caller past the TTL boundary
// issues the probe while concurrent callers block until it completes and
// reuse its result, so at most one probe per upstream is ever in flight.
func (u *Upstream) IsAlive() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if time.Since(u.lastChecked) < u.ttl {
		return u.alive
	}

	u.alive = u.probe()
	u.lastChecked = time.Now()

	return u.alive
}

// probe issues a single health request. Any transport error, timeout or
// non-200 status counts as dead.
func (u *Upstream) probe() bool {
	healthURL := u.url.ResolveReference(&url.URL{Path: "/health"})

	res, err := u.client.Get(healthURL.String())
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode == http.StatusOK
}

// Serve forwards the request to the backend with standard reverse-proxy
// semantics. No retries happen at this layer: a mid-flight backend failure
// surfaces to the client as the proxy's transport error.
func (u *Upstream) Serve(w http.ResponseWriter, r *http.Request) {
	u.proxy.ServeHTTP(w, r)
}

var errMissingHost = errors.New("backend URL must be absolute with scheme and host")
