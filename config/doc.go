// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including the listen address, backend URLs, health-check TTL and timeout,
// routing tunables and sticky-table bounds.
package config
