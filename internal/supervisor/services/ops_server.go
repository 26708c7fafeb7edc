// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package services adapts long-running components to suture.Service.
//
// Components that already expose Serve(ctx) error (the poller, the websocket
// hub and bridge) are added to the tree directly. The services here cover
// the remaining lifecycles: the ops HTTP listener and interval jobs such as
// trust score recovery.
package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/streamwarden/internal/logging"
)

// DefaultDrainTimeout applies when the configured shutdown timeout is unset.
const DefaultDrainTimeout = 10 * time.Second

// OpsServer serves the ops router (health, metrics, manual poll, websocket)
// under supervision. The listener is bound before Serve reports readiness,
// so a port clash fails the service immediately instead of inside a
// goroutine.
//
// On cancellation in-flight requests get drain to finish. Connections still
// open after that are closed and Serve reports the overrun.
type OpsServer struct {
	server *http.Server
	drain  time.Duration

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// NewOpsServer wraps server. A non-positive drain uses DefaultDrainTimeout.
func NewOpsServer(server *http.Server, drain time.Duration) *OpsServer {
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &OpsServer{server: server, drain: drain, ready: make(chan struct{})}
}

// Serve implements suture.Service.
func (o *OpsServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.server.Addr)
	if err != nil {
		return fmt.Errorf("ops server listen on %s: %w", o.server.Addr, err)
	}
	o.markReady(ln.Addr())
	logging.Info().Str("addr", ln.Addr().String()).Msg("Ops HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server failed: %w", err)

	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.drain)
		defer cancel()

		err := o.server.Shutdown(drainCtx)
		<-errCh
		if err != nil {
			if cerr := o.server.Close(); cerr != nil {
				logging.Warn().Err(cerr).Msg("Failed to close lingering ops connections")
			}
			logging.Warn().Err(err).Dur("drain", o.drain).Msg("Ops HTTP server did not drain in time")
			return fmt.Errorf("ops server drain: %w", err)
		}
		logging.Info().Msg("Ops HTTP server stopped")
		return ctx.Err()
	}
}

func (o *OpsServer) markReady(addr net.Addr) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.addr = addr
	select {
	case <-o.ready:
	default:
		close(o.ready)
	}
}

// Ready is closed once the listener is bound.
func (o *OpsServer) Ready() <-chan struct{} {
	return o.ready
}

// Addr is the bound address, or "" before Ready.
func (o *OpsServer) Addr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.addr == nil {
		return ""
	}
	return o.addr.String()
}

func (o *OpsServer) String() string {
	return "ops-http-server"
}
