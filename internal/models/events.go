// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

// Event names published to real-time subscribers.
const (
	EventSessionStarted = "session:started"
	EventSessionUpdated = "session:updated"
	EventSessionStopped = "session:stopped"
	EventViolationNew   = "violation:new"
)

// ActiveSession is the denormalized session view stored in the active-session
// cache and carried by lifecycle events.
type ActiveSession struct {
	Session
	User   UserSummary   `json:"user"`
	Server ServerSummary `json:"server"`
}

// NewActiveSession builds the denormalized view of a session.
func NewActiveSession(s *Session, u *User, srv *Server) ActiveSession {
	return ActiveSession{
		Session: *s,
		User:    u.Summary(),
		Server:  srv.Summary(),
	}
}

// ViolationEvent is the payload of EventViolationNew.
type ViolationEvent struct {
	Violation Violation   `json:"violation"`
	User      UserSummary `json:"user"`
	Rule      RuleSummary `json:"rule"`
}
