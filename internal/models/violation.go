// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Violation is a recorded rule breach tied to one session and one user.
type Violation struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	UserID         string          `json:"user_id"`
	SessionID      string          `json:"session_id"`
	Severity       Severity        `json:"severity"`
	Data           json.RawMessage `json:"data"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
