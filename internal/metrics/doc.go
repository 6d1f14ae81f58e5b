// Package metrics provides real-time metrics collection for the balancer.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Forwarded request counts per upstream
//   - Selection frequencies and pinned session counts
//   - Response times with latency quantiles (P50, P95, P99)
//   - HTTP status code distribution
//   - Health status as observed during selection scans
//
// The collector runs in a dedicated goroutine; events are sent over a
// buffered channel with non-blocking semantics so the request path never
// stalls on metrics. Shutdown drains pending events.
package metrics
