// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// SimultaneousLocationsParams configures the simultaneous_locations rule.
type SimultaneousLocationsParams struct {
	MinDistanceKm float64         `json:"min_distance_km"`
	Severity      models.Severity `json:"severity,omitempty"`
}

// DefaultSimultaneousLocationsParams returns the defaults applied before decoding.
func DefaultSimultaneousLocationsParams() SimultaneousLocationsParams {
	return SimultaneousLocationsParams{MinDistanceKm: 50}
}

// LocationInfo describes one end of a geographic comparison.
type LocationInfo struct {
	SessionID string   `json:"session_id"`
	IPAddress string   `json:"ip_address"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func locationOf(s *models.Session) LocationInfo {
	return LocationInfo{
		SessionID: s.ID,
		IPAddress: s.IPAddress,
		City:      s.Geo.City,
		Country:   s.Geo.Country,
		Latitude:  s.Geo.Latitude,
		Longitude: s.Geo.Longitude,
	}
}

// SimultaneousLocationsData is the evidence recorded with a violation.
type SimultaneousLocationsData struct {
	Current    LocationInfo `json:"current"`
	Other      LocationInfo `json:"other"`
	DistanceKm float64      `json:"distance_km"`
}

func checkSimultaneousLocations(raw json.RawMessage, s *models.Session, recent []*models.Session) (EvaluationResult, error) {
	p := DefaultSimultaneousLocationsParams()
	if err := decodeParams(raw, &p); err != nil {
		return EvaluationResult{}, err
	}
	severity := severityOr(p.Severity, models.SeverityHigh)

	if !s.Geo.HasCoordinates() {
		return EvaluationResult{Severity: severity}, nil
	}

	var farthest *models.Session
	var maxKm float64
	for _, r := range recent {
		if !r.IsActive() || !r.Geo.HasCoordinates() {
			continue
		}
		if d := distanceKm(s.Geo, r.Geo); d > p.MinDistanceKm && d > maxKm {
			farthest, maxKm = r, d
		}
	}

	if farthest == nil {
		return EvaluationResult{Severity: severity}, nil
	}
	return violation(severity, SimultaneousLocationsData{
		Current:    locationOf(s),
		Other:      locationOf(farthest),
		DistanceKm: round2(maxKm),
	})
}
