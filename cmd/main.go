package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/collabdocs/balancer/config"
	"github.com/collabdocs/balancer/internal/dispatcher"
	"github.com/collabdocs/balancer/internal/httpserver"
	"github.com/collabdocs/balancer/internal/metrics"
	"github.com/collabdocs/balancer/internal/state"
	"github.com/collabdocs/balancer/internal/upstream"
	"github.com/collabdocs/balancer/pkg/logger"
)

func main() {
	// Optional .env for local development; viper picks the variables up.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	routerState := state.New(cfg.Routing.WSStep, cfg.Routing.HTTPReset, cfg.Telemetry.Debug)

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)
	collector.Start(ctx)

	servers, err := initializeUpstreams(cfg, routerState, log)
	if err != nil {
		log.Error("Failed to initialize upstreams", slog.Any("err", err))
		os.Exit(1)
	}

	disp, err := dispatcher.New(servers, routerState, log, dispatcher.Options{
		StickyCapacity: cfg.Sticky.MaxEntries,
		StickyTTL:      cfg.StickyTTL(),
		Collector:      collector,
	})
	if err != nil {
		log.Error("Failed to create dispatcher", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(disp, collector))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("Balancer listening",
		slog.String("address", cfg.Server.Address),
		slog.Int("upstreams", len(servers)))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting balancer", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// initializeUpstreams builds the middleware-wrapped upstream list from the
// configured backend URLs. A malformed address is a construction error and
// aborts startup; membership is immutable afterwards.
func initializeUpstreams(cfg *config.Config, st *state.State, log *slog.Logger) ([]upstream.Server, error) {
	opts := upstream.Options{
		HealthTTL:    cfg.HealthTTL(),
		ProbeTimeout: cfg.ProbeTimeout(),
	}

	servers := make([]upstream.Server, 0, len(cfg.Backends))

	for _, rawURL := range cfg.Backends {
		u, err := upstream.New(rawURL, opts)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", rawURL, err)
		}

		servers = append(servers, upstream.Chain(u, st, log))
	}

	if len(servers) == 0 {
		return nil, errors.New("no backends configured")
	}

	return servers, nil
}
