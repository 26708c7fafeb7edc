// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// GeoRestrictionParams configures the geo_restriction rule. A non-empty
// allowlist rejects every country outside it.
type GeoRestrictionParams struct {
	BlockedCountries []string        `json:"blocked_countries"`
	AllowedCountries []string        `json:"allowed_countries"`
	Severity         models.Severity `json:"severity,omitempty"`
}

// GeoRestrictionData is the evidence recorded with a violation.
type GeoRestrictionData struct {
	Country         string `json:"country"`
	City            string `json:"city,omitempty"`
	IPAddress       string `json:"ip_address"`
	RestrictionMode string `json:"restriction_mode"` // blocklist, allowlist
}

func checkGeoRestriction(raw json.RawMessage, s *models.Session, _ []*models.Session) (EvaluationResult, error) {
	var p GeoRestrictionParams
	if err := decodeParams(raw, &p); err != nil {
		return EvaluationResult{}, err
	}
	severity := severityOr(p.Severity, models.SeverityHigh)

	country := s.Geo.Country
	if country == "" {
		return EvaluationResult{Severity: severity}, nil
	}

	mode := ""
	switch {
	case containsFold(p.BlockedCountries, country):
		mode = "blocklist"
	case len(p.AllowedCountries) > 0 && !containsFold(p.AllowedCountries, country):
		mode = "allowlist"
	default:
		return EvaluationResult{Severity: severity}, nil
	}

	return violation(severity, GeoRestrictionData{
		Country:         country,
		City:            s.Geo.City,
		IPAddress:       s.IPAddress,
		RestrictionMode: mode,
	})
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
