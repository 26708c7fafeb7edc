// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// DeviceVelocityParams configures the device_velocity rule.
type DeviceVelocityParams struct {
	WindowMinutes int             `json:"window_minutes"`
	MaxUniqueIPs  int             `json:"max_unique_ips"`
	Severity      models.Severity `json:"severity,omitempty"`
}

// DefaultDeviceVelocityParams returns the defaults applied before decoding.
func DefaultDeviceVelocityParams() DeviceVelocityParams {
	return DeviceVelocityParams{WindowMinutes: 5, MaxUniqueIPs: 3}
}

// DeviceVelocityData is the evidence recorded with a violation.
type DeviceVelocityData struct {
	IPAddresses   []string  `json:"ip_addresses"`
	MaxUniqueIPs  int       `json:"max_unique_ips"`
	WindowMinutes int       `json:"window_minutes"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
}

func checkDeviceVelocity(raw json.RawMessage, s *models.Session, recent []*models.Session) (EvaluationResult, error) {
	p := DefaultDeviceVelocityParams()
	if err := decodeParams(raw, &p); err != nil {
		return EvaluationResult{}, err
	}
	severity := severityOr(p.Severity, models.SeverityWarning)

	end := s.StartedAt
	start := end.Add(-time.Duration(p.WindowMinutes) * time.Minute)

	ips := make(map[string]struct{})
	if s.IPAddress != "" {
		ips[s.IPAddress] = struct{}{}
	}
	for _, r := range recent {
		if r.IPAddress == "" || r.StartedAt.Before(start) || r.StartedAt.After(end) {
			continue
		}
		ips[r.IPAddress] = struct{}{}
	}

	if len(ips) <= p.MaxUniqueIPs {
		return EvaluationResult{Severity: severity}, nil
	}

	list := make([]string, 0, len(ips))
	for ip := range ips {
		list = append(list, ip)
	}
	sort.Strings(list)

	return violation(severity, DeviceVelocityData{
		IPAddresses:   list,
		MaxUniqueIPs:  p.MaxUniqueIPs,
		WindowMinutes: p.WindowMinutes,
		WindowStart:   start,
		WindowEnd:     end,
	})
}
