// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package detection evaluates policy rules against newly observed sessions
// and records violations.
//
// Supported rule types:
//   - concurrent_streams: more active streams than max_streams
//   - simultaneous_locations: another active stream far away
//   - impossible_travel: implied speed from the previous session too high
//   - device_velocity: too many distinct IPs in a short window
//   - geo_restriction: country blocklist or allowlist
//
// Evaluate is pure. Writer persists a violation together with the owner's
// trust score penalty and publishes violation:new after commit.
package detection

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

// EvaluationResult is the outcome of one rule against one session.
type EvaluationResult struct {
	Rule     *models.Rule
	Violated bool
	Severity models.Severity
	Data     json.RawMessage
}

// checkFunc evaluates decoded rule params. recent excludes the session itself.
type checkFunc func(params json.RawMessage, s *models.Session, recent []*models.Session) (EvaluationResult, error)

var checks = map[models.RuleType]checkFunc{
	models.RuleTypeConcurrentStreams:     checkConcurrentStreams,
	models.RuleTypeSimultaneousLocations: checkSimultaneousLocations,
	models.RuleTypeImpossibleTravel:      checkImpossibleTravel,
	models.RuleTypeDeviceVelocity:        checkDeviceVelocity,
	models.RuleTypeGeoRestriction:        checkGeoRestriction,
}

// Known reports whether the rule type has an evaluator.
func Known(t models.RuleType) bool {
	_, ok := checks[t]
	return ok
}

// UnknownTypes returns the distinct unsupported types among rules.
func UnknownTypes(rules []*models.Rule) []models.RuleType {
	var out []models.RuleType
	seen := make(map[models.RuleType]struct{})
	for _, r := range rules {
		if Known(r.Type) {
			continue
		}
		if _, ok := seen[r.Type]; !ok {
			seen[r.Type] = struct{}{}
			out = append(out, r.Type)
		}
	}
	return out
}

// Evaluate runs every active rule whose scope covers the session's user.
// recent is the user's recent history; the session itself is ignored if
// present. Rules of unknown type and rules with undecodable params produce
// no result.
func Evaluate(s *models.Session, rules []*models.Rule, recent []*models.Session) []EvaluationResult {
	others := make([]*models.Session, 0, len(recent))
	for _, r := range recent {
		if r.ID != s.ID {
			others = append(others, r)
		}
	}

	var results []EvaluationResult
	for _, rule := range rules {
		if !rule.IsActive || !rule.AppliesTo(s.UserID) {
			continue
		}
		check, ok := checks[rule.Type]
		if !ok {
			continue
		}

		res, err := check(rule.Params, s, others)
		if err != nil {
			logging.Warn().Err(err).Str("rule_id", rule.ID).Str("rule_type", string(rule.Type)).
				Msg("Skipping rule with invalid params")
			continue
		}
		res.Rule = rule
		results = append(results, res)
	}
	return results
}

// Violations filters results down to the actionable ones.
func Violations(results []EvaluationResult) []EvaluationResult {
	var out []EvaluationResult
	for _, r := range results {
		if r.Violated {
			out = append(out, r)
		}
	}
	return out
}

// decodeParams fills dst from raw, leaving defaults for absent fields.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// severityOr returns the override when it names a known severity.
func severityOr(override, def models.Severity) models.Severity {
	switch override {
	case models.SeverityLow, models.SeverityWarning, models.SeverityHigh:
		return override
	}
	return def
}

func violation(severity models.Severity, data interface{}) (EvaluationResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	return EvaluationResult{Violated: true, Severity: severity, Data: raw}, nil
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func distanceKm(a, b models.Geo) float64 {
	return haversineKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
