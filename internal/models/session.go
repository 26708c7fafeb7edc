// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

import "time"

// MediaType is the canonical content kind shared by every backend.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeTrack   MediaType = "track"
)

// SessionState is the lifecycle state of a playback session.
type SessionState string

const (
	StatePlaying SessionState = "playing"
	StatePaused  SessionState = "paused"
	StateStopped SessionState = "stopped"
)

// ProcessedSession is the backend-agnostic snapshot of one live playback as
// returned by a source adapter. It carries only backend-native identifiers and
// is never persisted as-is.
type ProcessedSession struct {
	SessionKey string `json:"session_key"`
	RatingKey  string `json:"rating_key"`

	ExternalUserID string `json:"external_user_id"`
	Username       string `json:"username"`
	UserThumb      string `json:"user_thumb,omitempty"`

	MediaType     MediaType `json:"media_type"`
	Title         string    `json:"title"`
	ShowTitle     string    `json:"show_title,omitempty"`
	SeasonNumber  *int      `json:"season_number,omitempty"`
	EpisodeNumber *int      `json:"episode_number,omitempty"`
	Year          *int      `json:"year,omitempty"`
	PosterPath    string    `json:"poster_path,omitempty"`

	IPAddress  string `json:"ip_address"`
	PlayerName string `json:"player_name,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	Product    string `json:"product,omitempty"`
	Device     string `json:"device,omitempty"`
	Platform   string `json:"platform,omitempty"`

	Quality     string       `json:"quality,omitempty"`
	IsTranscode bool         `json:"is_transcode"`
	Bitrate     int          `json:"bitrate,omitempty"` // kbps
	State       SessionState `json:"state"`

	// Nil means the backend did not report the value. Zero is a real reading.
	TotalDurationMs *int64 `json:"total_duration_ms,omitempty"`
	ProgressMs      *int64 `json:"progress_ms,omitempty"`
}

// Geo is the location resolved for a session's IP address.
type Geo struct {
	City      string   `json:"city,omitempty"`
	Region    string   `json:"region,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (g Geo) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// Session is the persisted record of one playback instance.
type Session struct {
	ID         string `json:"id"`
	ServerID   string `json:"server_id"`
	UserID     string `json:"user_id"`
	SessionKey string `json:"session_key"`

	MediaType     MediaType `json:"media_type"`
	Title         string    `json:"title"`
	ShowTitle     string    `json:"show_title,omitempty"`
	SeasonNumber  *int      `json:"season_number,omitempty"`
	EpisodeNumber *int      `json:"episode_number,omitempty"`
	Year          *int      `json:"year,omitempty"`
	PosterPath    string    `json:"poster_path,omitempty"`
	RatingKey     string    `json:"rating_key"`

	StartedAt       time.Time  `json:"started_at"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	DurationMs      *int64     `json:"duration_ms,omitempty"`
	TotalDurationMs *int64     `json:"total_duration_ms,omitempty"`
	ProgressMs      *int64     `json:"progress_ms,omitempty"`

	LastPausedAt     *time.Time `json:"last_paused_at,omitempty"`
	PausedDurationMs int64      `json:"paused_duration_ms"`

	State   SessionState `json:"state"`
	Watched bool         `json:"watched"`

	ReferenceID *string `json:"reference_id,omitempty"`

	IPAddress  string `json:"ip_address"`
	Geo        Geo    `json:"geo"`
	PlayerName string `json:"player_name,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	Product    string `json:"product,omitempty"`
	Device     string `json:"device,omitempty"`
	Platform   string `json:"platform,omitempty"`

	Quality     string `json:"quality,omitempty"`
	IsTranscode bool   `json:"is_transcode"`
	Bitrate     int    `json:"bitrate,omitempty"`
}

// IsActive reports whether the session has not been stopped yet.
func (s *Session) IsActive() bool {
	return s.StoppedAt == nil
}

// ChainRoot returns the id of the first session in this session's resume chain.
func (s *Session) ChainRoot() string {
	if s.ReferenceID != nil && *s.ReferenceID != "" {
		return *s.ReferenceID
	}
	return s.ID
}
