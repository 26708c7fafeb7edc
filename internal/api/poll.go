// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package api

import (
	"context"
	"net/http"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/poller"
)

// TickTrigger runs a poll tick on demand. Satisfied by *poller.Poller.
type TickTrigger interface {
	TriggerTick(ctx context.Context) (poller.TickSummary, error)
}

// TickResponse is the body of POST /poll.
type TickResponse struct {
	CorrelationID string   `json:"correlation_id"`
	Servers       int      `json:"servers"`
	FailedServers []string `json:"failed_servers"`
	New           int      `json:"new"`
	Updated       int      `json:"updated"`
	Stopped       int      `json:"stopped"`
	Violations    int      `json:"violations"`
	DurationMs    int64    `json:"duration_ms"`
}

type pollHandler struct {
	trigger TickTrigger
}

// poll runs a manual tick. It waits for an in-flight tick first, so the
// response always reflects a tick that started after the request.
func (h *pollHandler) poll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.trigger.TriggerTick(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Manual poll abandoned")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poll did not start"})
		return
	}

	failed := summary.FailedServers
	if failed == nil {
		failed = []string{}
	}
	respondJSON(w, http.StatusOK, TickResponse{
		CorrelationID: summary.CorrelationID,
		Servers:       summary.Servers,
		FailedServers: failed,
		New:           summary.New,
		Updated:       summary.Updated,
		Stopped:       summary.Stopped,
		Violations:    summary.Violations,
		DurationMs:    summary.Duration.Milliseconds(),
	})
}
