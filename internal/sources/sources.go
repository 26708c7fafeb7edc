// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

/*
Package sources fetches live playback sessions from media servers and
normalizes them into models.ProcessedSession.

Supported backends:
  - Plex: GET /status/sessions with X-Plex-Token
  - Jellyfin and Emby: GET /Sessions with X-Emby-Token

Each configured server gets one Adapter. Adapters are wrapped in a circuit
breaker and a per-request timeout so that one slow or failing server cannot
hold up the others. A returned error always means "could not read the live
set", never "no sessions"; an empty slice with a nil error means nothing is
playing.
*/
package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/models"
)

// ErrUnsupportedType is returned for a server type with no adapter.
var ErrUnsupportedType = errors.New("unsupported server type")

// Adapter fetches the live sessions of one media server.
type Adapter interface {
	Server() models.Server
	FetchLive(ctx context.Context) ([]models.ProcessedSession, error)
}

// fetcher is the backend-specific half of an Adapter.
type fetcher interface {
	fetch(ctx context.Context) ([]models.ProcessedSession, error)
}

// New builds the adapter for one configured server.
func New(cfg config.ServerConfig) (Adapter, error) {
	server := models.Server{
		ID:   cfg.ID,
		Name: cfg.DisplayName(),
		Type: models.ServerType(cfg.Type),
		URL:  cfg.URL,
	}

	c := newClient(server.Type, cfg)

	var f fetcher
	switch server.Type {
	case models.ServerTypePlex:
		f = &plexFetcher{client: c, serverID: server.ID}
	case models.ServerTypeJellyfin, models.ServerTypeEmby:
		f = &jellyfinFetcher{client: c, serverID: server.ID}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, cfg.Type)
	}

	return newBreakerAdapter(server, f, cfg.Timeout), nil
}

// Registry holds the adapters of every configured server.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds one adapter per configured server, in config order.
func NewRegistry(servers []config.ServerConfig) (*Registry, error) {
	r := &Registry{adapters: make([]Adapter, 0, len(servers))}
	for _, s := range servers {
		a, err := New(s)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", s.ID, err)
		}
		r.adapters = append(r.adapters, a)
	}
	return r, nil
}

// Adapters returns the configured adapters.
func (r *Registry) Adapters() []Adapter {
	return r.adapters
}

// Servers returns the server descriptors of every adapter.
func (r *Registry) Servers() []models.Server {
	servers := make([]models.Server, len(r.adapters))
	for i, a := range r.adapters {
		servers[i] = a.Server()
	}
	return servers
}
