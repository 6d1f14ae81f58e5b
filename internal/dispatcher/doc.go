// Package dispatcher routes inbound HTTP and WebSocket traffic across the
// upstream set with dual round-robin cursors and sticky session affinity.
package dispatcher
