// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/logging"
)

// HealthStatus is the body of /healthz and /readyz.
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

const (
	statusOK       = "ok"
	statusDegraded = "unavailable"
)

type healthHandler struct {
	db      Pinger
	cache   Pinger
	timeout time.Duration
}

// live reports that the process is serving requests.
func (h *healthHandler) live(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthStatus{Status: statusOK, Timestamp: time.Now().UTC()})
}

// ready reports 503 while the database, or a configured cache, is unreachable.
func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	body := HealthStatus{Status: statusOK, Components: map[string]string{}, Timestamp: time.Now().UTC()}
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("component", name).Msg("Readiness check failed")
			body.Components[name] = statusDegraded
			body.Status = statusDegraded
			return
		}
		body.Components[name] = statusOK
	}
	if h.db == nil {
		body.Components["database"] = statusDegraded
		body.Status = statusDegraded
	}
	check("database", h.db)
	check("cache", h.cache)

	status := http.StatusOK
	if body.Status != statusOK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}
