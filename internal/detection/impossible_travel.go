// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// minTravelHours stands in for a zero time delta so speed stays finite.
const minTravelHours = 0.001

// ImpossibleTravelParams configures the impossible_travel rule.
type ImpossibleTravelParams struct {
	MaxSpeedKmh   float64         `json:"max_speed_kmh"`
	MinDistanceKm float64         `json:"min_distance_km"`
	Severity      models.Severity `json:"severity,omitempty"`
}

// DefaultImpossibleTravelParams returns the defaults applied before decoding.
func DefaultImpossibleTravelParams() ImpossibleTravelParams {
	return ImpossibleTravelParams{MaxSpeedKmh: 900, MinDistanceKm: 100}
}

// ImpossibleTravelData is the evidence recorded with a violation.
type ImpossibleTravelData struct {
	From          LocationInfo `json:"from"`
	To            LocationInfo `json:"to"`
	FromStartedAt time.Time    `json:"from_started_at"`
	ToStartedAt   time.Time    `json:"to_started_at"`
	DistanceKm    float64      `json:"distance_km"`
	TimeDeltaMins float64      `json:"time_delta_mins"`
	SpeedKmh      float64      `json:"speed_kmh"`
}

func checkImpossibleTravel(raw json.RawMessage, s *models.Session, recent []*models.Session) (EvaluationResult, error) {
	p := DefaultImpossibleTravelParams()
	if err := decodeParams(raw, &p); err != nil {
		return EvaluationResult{}, err
	}
	severity := severityOr(p.Severity, models.SeverityHigh)

	if !s.Geo.HasCoordinates() {
		return EvaluationResult{Severity: severity}, nil
	}

	var prev *models.Session
	for _, r := range recent {
		if !r.Geo.HasCoordinates() || r.StartedAt.After(s.StartedAt) {
			continue
		}
		if prev == nil || r.StartedAt.After(prev.StartedAt) {
			prev = r
		}
	}
	if prev == nil {
		return EvaluationResult{Severity: severity}, nil
	}

	km := distanceKm(prev.Geo, s.Geo)
	if km < p.MinDistanceKm {
		return EvaluationResult{Severity: severity}, nil
	}

	delta := s.StartedAt.Sub(prev.StartedAt)
	hours := delta.Hours()
	if hours < minTravelHours {
		hours = minTravelHours
	}
	speed := km / hours
	if speed <= p.MaxSpeedKmh {
		return EvaluationResult{Severity: severity}, nil
	}

	return violation(severity, ImpossibleTravelData{
		From:          locationOf(prev),
		To:            locationOf(s),
		FromStartedAt: prev.StartedAt,
		ToStartedAt:   s.StartedAt,
		DistanceKm:    round2(km),
		TimeDeltaMins: round2(delta.Minutes()),
		SpeedKmh:      round2(speed),
	})
}
