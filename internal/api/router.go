// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package api serves Streamwarden's operational HTTP surface: liveness,
// readiness, Prometheus metrics, manual poll ticks and the websocket event
// stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/streamwarden/internal/logging"
)

// pollRateLimit caps manual ticks per client IP per minute.
const pollRateLimit = 6

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the router.
type Config struct {
	CORSOrigins []string

	// WSRateLimit is websocket upgrades per client IP per minute; 0 disables
	// the limit.
	WSRateLimit int
}

// Deps are the router's collaborators. Everything but DB is optional.
type Deps struct {
	DB        Pinger
	Cache     Pinger
	Poller    TickTrigger
	WebSocket http.Handler
	Gatherer  prometheus.Gatherer
}

// NewRouter builds the chi router.
func NewRouter(cfg Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(CorrelationID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestMetrics())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID"},
		MaxAge:         300,
	}))

	h := &healthHandler{db: deps.DB, cache: deps.Cache, timeout: 2 * time.Second}
	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Get("/healthz", h.live)
		r.Get("/readyz", h.ready)
	})

	if deps.Poller != nil {
		p := &pollHandler{trigger: deps.Poller}
		r.With(SecurityHeaders(), httprate.LimitByIP(pollRateLimit, time.Minute)).Post("/poll", p.poll)
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if deps.WebSocket != nil {
		ws := deps.WebSocket
		if cfg.WSRateLimit > 0 {
			ws = httprate.LimitByIP(cfg.WSRateLimit, time.Minute)(ws)
		}
		r.Handle("/ws", ws)
	}

	return r
}

// CorrelationID attaches a correlation id to every request context and
// echoes it in the X-Correlation-ID response header. A well-formed
// incoming header is reused.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Correlation-ID")
			if id == "" || len(id) > 64 {
				id = logging.GenerateCorrelationID()
			}
			w.Header().Set("X-Correlation-ID", id)
			next.ServeHTTP(w, r.WithContext(logging.ContextWithCorrelationID(r.Context(), id)))
		})
	}
}

// SecurityHeaders sets the headers every JSON endpoint carries.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
