// Package upstream wraps one backend server behind a reverse proxy with a
// TTL-cached liveness probe, and provides the logging and telemetry
// middleware composed around it.
package upstream
