// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package main is the entry point for the Streamwarden server.
//
// Streamwarden polls Plex, Jellyfin and Emby servers for live playback,
// reconciles what it sees into a durable session history, evaluates new
// sessions against sharing-policy rules and streams lifecycle and violation
// events to dashboards.
//
// # Startup
//
//  1. Configuration: defaults, config.yaml, then environment (koanf v2)
//  2. DuckDB store; configured servers are upserted and default rules seeded
//  3. GeoIP reader, active-session cache (Redis or Badger), event publishers
//  4. Poll pipeline: sources, identity resolver, reconciliation engine,
//     rule runner, live-state synchronizer
//  5. Supervisor tree: trust recovery, poller, websocket hub and bridge,
//     HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the tree. Every service gets
// supervisor.shutdown_timeout to stop; an in-flight tick is allowed to
// finish its database writes.
//
// # Example
//
//	export DUCKDB_PATH=/data/streamwarden.duckdb
//	export REDIS_ENABLED=true
//	export REDIS_ADDR=localhost:6379
//	./streamwarden
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/streamwarden/internal/api"
	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/database"
	"github.com/tomtom215/streamwarden/internal/detection"
	"github.com/tomtom215/streamwarden/internal/geoip"
	"github.com/tomtom215/streamwarden/internal/identity"
	"github.com/tomtom215/streamwarden/internal/livesync"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/poller"
	"github.com/tomtom215/streamwarden/internal/pubsub"
	"github.com/tomtom215/streamwarden/internal/reconcile"
	"github.com/tomtom215/streamwarden/internal/sources"
	"github.com/tomtom215/streamwarden/internal/supervisor"
	"github.com/tomtom215/streamwarden/internal/supervisor/services"
	ws "github.com/tomtom215/streamwarden/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Streamwarden stopped with an error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Int("servers", len(cfg.Servers)).
		Str("db_path", cfg.Database.Path).
		Dur("poll_interval", cfg.Poller.Interval).
		Bool("detection", cfg.Detection.Enabled).
		Msg("Starting Streamwarden")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	registry, err := sources.NewRegistry(cfg.Servers)
	if err != nil {
		return fmt.Errorf("configure servers: %w", err)
	}
	if err := db.UpsertServers(ctx, registry.Servers()); err != nil {
		return fmt.Errorf("register servers: %w", err)
	}
	if cfg.Detection.Enabled && cfg.Detection.SeedDefaultRules {
		n, err := db.SeedRules(ctx, detection.DefaultRules())
		if err != nil {
			return fmt.Errorf("seed default rules: %w", err)
		}
		if n > 0 {
			logging.Info().Int("rules", n).Msg("Seeded default detection rules")
		}
	}

	geo, err := geoip.NewReader(cfg.GeoIP.DatabasePath, cfg.GeoIP.CacheTTL)
	if err != nil {
		return err
	}
	defer func() { _ = geo.Close() }()

	active := openActiveStore(ctx, cfg)
	if active != nil {
		defer func() {
			if err := active.store.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing active-session cache")
			}
		}()
	}

	bus := pubsub.NewBus(logging.NewWatermillLogger())
	publisher := openPublishers(cfg, bus, active)
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publishers")
		}
	}()

	deps := poller.Deps{
		Adapters:    registry.Adapters(),
		Store:       db,
		Identity:    identity.NewResolver(db),
		Engine:      reconcile.NewEngine(db, geo),
		Sync:        livesync.New(active.activeStore(), publisher),
		MaxParallel: cfg.Poller.MaxParallelServers,
	}
	if cfg.Detection.Enabled {
		deps.Detector = detection.NewRunner(db, detection.NewWriter(db, publisher),
			cfg.Detection.HistoryWindow, cfg.Detection.HistoryLimit)
	}
	sessionPoller := poller.New(poller.Config{
		Enabled:  cfg.Poller.Enabled,
		Interval: cfg.Poller.Interval,
	}, deps)

	hub := ws.NewHub()
	router := api.NewRouter(api.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		WSRateLimit: cfg.Server.WSRateLimit,
	}, api.Deps{
		DB:        db,
		Cache:     active.pinger(),
		Poller:    sessionPoller,
		WebSocket: ws.NewHandler(hub, cfg.Server.CORSOrigins),
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	if cfg.Detection.Enabled {
		tree.AddDataService(services.NewTrustRecoveryService(db,
			cfg.Detection.TrustRecoveryAmount, cfg.Detection.TrustRecoveryInterval))
	}
	tree.AddPipelineService(sessionPoller)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(ws.NewBridge(hub, bus, pubsub.TopicEvents))
	tree.AddAPIService(services.NewOpsServer(server, cfg.Supervisor.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	err = tree.Serve(ctx)

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("Streamwarden stopped")
	return nil
}
