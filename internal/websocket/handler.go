// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/streamwarden/internal/logging"
)

// Handler upgrades requests into hub clients.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	origins  []string
}

// NewHandler accepts browser origins listed in origins; "*" accepts any.
// Requests without an Origin header are rejected.
func NewHandler(hub *Hub, origins []string) *Handler {
	h := &Handler{hub: hub, origins: origins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	newClient(h.hub, conn).start()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	logging.Warn().Str("origin", sanitize(origin)).Msg("WebSocket connection rejected from unlisted origin")
	return false
}

// sanitize keeps header values from forging log lines.
func sanitize(v string) string {
	v = strings.NewReplacer("\n", "", "\r", "").Replace(v)
	if len(v) > 128 {
		v = v[:128]
	}
	return v
}
