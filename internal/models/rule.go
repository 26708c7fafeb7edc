// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// RuleType discriminates the evaluation logic of a rule.
type RuleType string

const (
	RuleTypeConcurrentStreams     RuleType = "concurrent_streams"
	RuleTypeSimultaneousLocations RuleType = "simultaneous_locations"
	RuleTypeImpossibleTravel      RuleType = "impossible_travel"
	RuleTypeDeviceVelocity        RuleType = "device_velocity"
	RuleTypeGeoRestriction        RuleType = "geo_restriction"
)

// Severity grades a violation and determines its trust penalty.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Rule is a configurable policy evaluated against newly observed sessions.
// A nil UserID applies the rule to every user.
type Rule struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      RuleType        `json:"type"`
	Params    json.RawMessage `json:"params"`
	UserID    *string         `json:"user_id,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppliesTo reports whether the rule's scope covers the given user.
func (r *Rule) AppliesTo(userID string) bool {
	return r.UserID == nil || *r.UserID == userID
}

// RuleSummary is the subset of Rule carried in published events.
type RuleSummary struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type RuleType `json:"type"`
}

// Summary returns the event view of the rule.
func (r *Rule) Summary() RuleSummary {
	if r == nil {
		return RuleSummary{}
	}
	return RuleSummary{ID: r.ID, Name: r.Name, Type: r.Type}
}
