package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const responseTimeWindow = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	selections    map[string]int64
	pinned        int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests  int64                      `json:"total_requests"`
	PinnedSessions int64                      `json:"pinned_sessions"`
	Uptime         time.Duration              `json:"uptime"`
	Upstreams      map[string]UpstreamMetrics `json:"upstreams"`
}

type UpstreamMetrics struct {
	Requests    int64         `json:"requests"`
	Selections  int64         `json:"selections"`
	Healthy     bool          `json:"healthy"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		selections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(upstream string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[upstream]++
}

func (m *Metrics) RecordSelection(upstream string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[upstream]++
}

func (m *Metrics) RecordSessionPinned() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pinned++
}

func (m *Metrics) RecordResponse(upstream string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[upstream] = append(m.responseTimes[upstream], duration)

	if len(m.responseTimes[upstream]) > responseTimeWindow {
		m.responseTimes[upstream] = m.responseTimes[upstream][1:]
	}

	if m.statusCodes[upstream] == nil {
		m.statusCodes[upstream] = make(map[int]int64)
	}
	m.statusCodes[upstream][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(upstream string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[upstream] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		PinnedSessions: m.pinned,
		Uptime:         time.Since(m.startTime),
		Upstreams:      make(map[string]UpstreamMetrics),
	}

	allUpstreams := make(map[string]bool)
	for upstream := range m.requests {
		allUpstreams[upstream] = true
	}
	for upstream := range m.selections {
		allUpstreams[upstream] = true
	}
	for upstream := range m.responseTimes {
		allUpstreams[upstream] = true
	}
	for upstream := range m.healthStatus {
		allUpstreams[upstream] = true
	}

	for upstream := range allUpstreams {
		snap.TotalRequests += m.requests[upstream]

		um := UpstreamMetrics{
			Requests:   m.requests[upstream],
			Selections: m.selections[upstream],
			Healthy:    m.healthStatus[upstream],
		}

		if codes := m.statusCodes[upstream]; len(codes) > 0 {
			um.StatusCodes = make(map[int]int64, len(codes))
			for code, n := range codes {
				um.StatusCodes[code] = n
			}
		}

		durations := m.responseTimes[upstream]
		if len(durations) > 0 {
			sorted := make([]float64, len(durations))
			for i, d := range durations {
				sorted[i] = float64(d)
			}
			sort.Float64s(sorted)

			um.AvgResponse = time.Duration(stat.Mean(sorted, nil))
			um.P50Response = quantile(0.50, sorted)
			um.P95Response = quantile(0.95, sorted)
			um.P99Response = quantile(0.99, sorted)
		}

		snap.Upstreams[upstream] = um
	}

	return snap
}

func quantile(p float64, sorted []float64) time.Duration {
	return time.Duration(stat.Quantile(p, stat.Empirical, sorted, nil))
}
