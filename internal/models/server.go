// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

// ServerType identifies the media-server backend family.
type ServerType string

const (
	ServerTypePlex     ServerType = "plex"
	ServerTypeJellyfin ServerType = "jellyfin"
	ServerTypeEmby     ServerType = "emby"
)

// Server is a monitored media server. Credentials live in configuration only.
type Server struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type ServerType `json:"type"`
	URL  string     `json:"url"`
}

// ServerSummary is the subset of Server carried in published events.
type ServerSummary struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type ServerType `json:"type"`
}

// Summary returns the event view of the server.
func (s *Server) Summary() ServerSummary {
	if s == nil {
		return ServerSummary{}
	}
	return ServerSummary{ID: s.ID, Name: s.Name, Type: s.Type}
}
