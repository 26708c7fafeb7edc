// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package cache holds the active-session projection: the current snapshot of
// live sessions, a per-id index and a per-user index.
//
// The cache is a read optimization. DuckDB stays authoritative, and every
// caller must tolerate a cache that is stale, empty, or missing entirely.
//
// Two backends are provided:
//   - RedisStore, shared between processes (go-redis)
//   - BadgerStore, embedded, on disk or in memory (badger/v4)
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// ErrNotFound is returned by GetSession when the id is not cached.
var ErrNotFound = errors.New("cache: session not found")

// SessionTTL bounds how long a per-id entry survives without a refresh, so a
// missed stop cannot pin an entry forever.
const SessionTTL = 24 * time.Hour

// ActiveStore is the active-session projection written once per tick.
type ActiveStore interface {
	// GetActiveSessions returns the full snapshot. An empty cache returns nil.
	GetActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
	// SetActiveSessions replaces the snapshot.
	SetActiveSessions(ctx context.Context, sessions []models.ActiveSession) error

	SetSession(ctx context.Context, s models.ActiveSession) error
	GetSession(ctx context.Context, id string) (*models.ActiveSession, error)
	DeleteSession(ctx context.Context, id string) error

	AddUserSession(ctx context.Context, userID, sessionID string) error
	RemoveUserSession(ctx context.Context, userID, sessionID string) error
	// UserSessions returns the cached session ids of one user, sorted.
	UserSessions(ctx context.Context, userID string) ([]string, error)
	// ClearUserSessions drops the per-user index of every user.
	ClearUserSessions(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// keys builds the key layout shared by both backends.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		return keys{}
	}
	return keys{prefix: prefix + ":"}
}

func (k keys) active() string {
	return k.prefix + "active_sessions"
}

func (k keys) session(id string) string {
	return k.prefix + "session:" + id
}

func (k keys) userSessions(userID string) string {
	return k.prefix + "user_sessions:" + userID
}
