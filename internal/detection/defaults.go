// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// DefaultRules returns the global rule set seeded on first start. The
// geo_restriction rule ships inactive because it needs country lists.
func DefaultRules() []*models.Rule {
	mustJSON := func(v interface{}) json.RawMessage {
		raw, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		return raw
	}

	return []*models.Rule{
		{
			Name:     "Concurrent streams",
			Type:     models.RuleTypeConcurrentStreams,
			Params:   mustJSON(DefaultConcurrentStreamsParams()),
			IsActive: true,
		},
		{
			Name:     "Simultaneous locations",
			Type:     models.RuleTypeSimultaneousLocations,
			Params:   mustJSON(DefaultSimultaneousLocationsParams()),
			IsActive: true,
		},
		{
			Name:     "Impossible travel",
			Type:     models.RuleTypeImpossibleTravel,
			Params:   mustJSON(DefaultImpossibleTravelParams()),
			IsActive: true,
		},
		{
			Name:     "Device velocity",
			Type:     models.RuleTypeDeviceVelocity,
			Params:   mustJSON(DefaultDeviceVelocityParams()),
			IsActive: true,
		},
		{
			Name:     "Geo restriction",
			Type:     models.RuleTypeGeoRestriction,
			Params:   mustJSON(GeoRestrictionParams{BlockedCountries: []string{}, AllowedCountries: []string{}}),
			IsActive: false,
		},
	}
}
