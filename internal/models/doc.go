// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

/*
Package models defines the data structures shared across Streamwarden.

Model categories:

 1. Sources:
    - Server: a monitored Plex, Jellyfin or Emby instance
    - ProcessedSession: one normalized live row from a server's session endpoint

 2. Persistent records:
    - User: a backend account scoped to one server, with its trust score
    - Session: one playback, from first sighting until it disappears; a
    resumed playback links to its chain root through ReferenceID
    - Rule: a detection rule with JSON parameters and optional user scope
    - Violation: one rule breach recorded against a session

 3. Events:
    - ActiveSession: the denormalized view held in the active-session cache
    and carried by session:* events
    - ViolationEvent: the payload of violation:new

Session state moves playing <-> paused -> stopped. A stopped session never
becomes active again; a new playback of the same item creates a new row.

JSON tags use snake_case throughout, matching the database columns and the
event wire format:

	view := models.NewActiveSession(session, user, &server)
	publisher.Publish(ctx, models.EventSessionStarted, view)
*/
package models
