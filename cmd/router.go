package main

import (
	"net/http"

	"github.com/collabdocs/balancer/internal/dispatcher"
	"github.com/collabdocs/balancer/internal/metrics"
)

func setupRouter(disp *dispatcher.Dispatcher, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", disp.ServeHTTP)
	mux.HandleFunc("/metrics", metricsCollector.Handler())

	return mux
}
