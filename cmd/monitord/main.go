// Command monitord implements the sigap live monitoring daemon.
//
// monitord runs a continuous monitoring session for one intersection:
//  1. Polls the AI inference service for the current traffic reading
//  2. Maintains a bounded, deduplicated history of readings
//  3. Projects a short-horizon forecast curve from the latest trend
//  4. Drives the congestion alert state machine
//  5. Publishes the combined session snapshot for dashboards to consume
//
// The daemon serves an HTTP API on port 8091 (configurable) providing the
// session snapshot, history and forecast series, operator decision
// endpoints (apply, reject, override, save), a websocket change feed,
// health checks, and Prometheus metrics.
//
// Usage:
//
//	monitord \
//	  -intersection=jl-sudirman \
//	  -live-url=http://inference:8000/api/live-data \
//	  -apply-url=http://inference:8000/api/apply-recommendation
//
// Environment variables:
//
//	INTERSECTION  - Intersection name (required)
//	LIVE_URL      - Live snapshot endpoint (required)
//	APPLY_URL     - Apply-recommendation endpoint (required)
//	INTERVAL      - Poll interval (default: 2s)
//	FETCH_TIMEOUT - Per-fetch HTTP timeout (default: 10s)
//	NOTIFY_TTL    - Notification auto-clear delay (default: 6s)
//	STORAGE       - Snapshot store: memory or redis (default: memory)
//	LISTEN        - HTTP listen address (default: :8091)
//	LOG_LEVEL     - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT    - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sigap-ai/sigapd/cmd/monitord/config"
	"github.com/sigap-ai/sigapd/cmd/monitord/logger"
	"github.com/sigap-ai/sigapd/cmd/monitord/metrics"
	"github.com/sigap-ai/sigapd/cmd/monitord/router"
	"github.com/sigap-ai/sigapd/cmd/monitord/store"
	"github.com/sigap-ai/sigapd/pkg/feed"
	"github.com/sigap-ai/sigapd/pkg/httpx"
	"github.com/sigap-ai/sigapd/pkg/session"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting sigap monitord",
		"version", version,
		"intersection", cfg.Intersection,
		"live_url", cfg.LiveURL,
		"interval", cfg.Interval,
	)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	httpClient, err := httpx.NewClient(cfg.TLS, cfg.FetchTimeout)
	if err != nil {
		log.Error("failed to create HTTP client", "error", err)
		os.Exit(1)
	}

	snapshots := store.New(cfg, log)
	if closer, ok := snapshots.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
	}

	m := metrics.New(cfg.Intersection)

	sess := session.New(session.Config{
		Intersection: cfg.Intersection,
		Source:       &feed.Fetcher{URL: cfg.LiveURL, HTTPClient: httpClient},
		Backend:      &feed.Applier{URL: cfg.ApplyURL, HTTPClient: httpClient},
		Store:        snapshots,
		Interval:     cfg.Interval,
		NotifyTTL:    cfg.NotifyTTL,
		Logger:       log,
		Metrics:      m,
	})

	staleAfter := 2 * cfg.Interval // Snapshot is stale if older than 2x the interval
	mux := router.SetupRoutes(sess, snapshots, cfg.Intersection, staleAfter, m, log)
	handler := httpx.LoggingMiddleware(log)(httpx.RecoveryMiddleware(log)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			log.Error("monitoring session failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErr <- httpServer.Start()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
