// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

import "time"

const (
	// DefaultTrustScore is assigned to users on first sight.
	DefaultTrustScore = 100

	// MaxTrustScore caps trust score recovery.
	MaxTrustScore = 100
)

// User is a media-server account, unique per (ServerID, ExternalID).
type User struct {
	ID         string    `json:"id"`
	ServerID   string    `json:"server_id"`
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	ThumbURL   string    `json:"thumb_url,omitempty"`
	TrustScore int       `json:"trust_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserSummary is the subset of User carried in published events.
type UserSummary struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ThumbURL   string `json:"thumb_url,omitempty"`
	TrustScore int    `json:"trust_score"`
}

// Summary returns the event view of the user.
func (u *User) Summary() UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{
		ID:         u.ID,
		Username:   u.Username,
		ThumbURL:   u.ThumbURL,
		TrustScore: u.TrustScore,
	}
}
