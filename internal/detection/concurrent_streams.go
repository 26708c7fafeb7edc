// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// ConcurrentStreamsParams configures the concurrent_streams rule.
type ConcurrentStreamsParams struct {
	MaxStreams int             `json:"max_streams"`
	Severity   models.Severity `json:"severity,omitempty"`
}

// DefaultConcurrentStreamsParams returns the defaults applied before decoding.
func DefaultConcurrentStreamsParams() ConcurrentStreamsParams {
	return ConcurrentStreamsParams{MaxStreams: 3}
}

// ConcurrentStreamsData is the evidence recorded with a violation.
type ConcurrentStreamsData struct {
	ActiveStreams int      `json:"active_streams"`
	MaxStreams    int      `json:"max_streams"`
	SessionIDs    []string `json:"session_ids"`
}

func checkConcurrentStreams(raw json.RawMessage, s *models.Session, recent []*models.Session) (EvaluationResult, error) {
	p := DefaultConcurrentStreamsParams()
	if err := decodeParams(raw, &p); err != nil {
		return EvaluationResult{}, err
	}
	severity := severityOr(p.Severity, models.SeverityWarning)

	ids := []string{s.ID}
	for _, r := range recent {
		if r.IsActive() {
			ids = append(ids, r.ID)
		}
	}

	if len(ids) <= p.MaxStreams {
		return EvaluationResult{Severity: severity}, nil
	}
	return violation(severity, ConcurrentStreamsData{
		ActiveStreams: len(ids),
		MaxStreams:    p.MaxStreams,
		SessionIDs:    ids,
	})
}
