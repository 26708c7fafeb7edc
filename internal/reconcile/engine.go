// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/streamwarden/internal/database"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/models"
)

// Store is the persistence the engine reads and writes.
type Store interface {
	ActiveSessions(ctx context.Context, serverID string) ([]*models.Session, error)
	ResumeCandidates(ctx context.Context, keys []database.ChainKey, since time.Time) (map[database.ChainKey]*models.Session, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
	ApplySessionChanges(ctx context.Context, inserts, updates []*models.Session) error
}

// Locator resolves client IP addresses. *geoip.Reader satisfies it.
type Locator interface {
	Locate(ip string) (models.Geo, bool)
}

// Result is one server's committed contribution to a tick.
type Result struct {
	Server models.Server
	*Changes

	// Active is the server's full active set once Changes committed.
	Active []*models.Session

	// Users holds the owner of every session in Changes and Active, keyed by
	// internal id.
	Users map[string]*models.User
}

// ActiveSessions denormalizes sessions for the cache and event payloads.
func (r *Result) ActiveSessions(sessions []*models.Session) []models.ActiveSession {
	out := make([]models.ActiveSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, models.NewActiveSession(s, r.Users[s.UserID], &r.Server))
	}
	return out
}

// Engine reconciles servers against the store.
type Engine struct {
	store   Store
	locator Locator
	newID   func() string
}

// NewEngine creates an engine. locator may be nil.
func NewEngine(store Store, locator Locator) *Engine {
	return &Engine{
		store:   store,
		locator: locator,
		newID:   func() string { return uuid.New().String() },
	}
}

// Reconcile applies one server's live list. users maps backend user ids to
// resolved users for every entry in live. On error nothing was written.
func (e *Engine) Reconcile(ctx context.Context, server models.Server, live []models.ProcessedSession, users map[string]*models.User, now time.Time) (*Result, error) {
	now = now.UTC()

	active, err := e.store.ActiveSessions(ctx, server.ID)
	if err != nil {
		return nil, fmt.Errorf("load active sessions: %w", err)
	}

	resume, err := e.store.ResumeCandidates(ctx, CreationKeys(live, users, active), now.Add(-ResumeWindow))
	if err != nil {
		return nil, fmt.Errorf("load resume candidates: %w", err)
	}

	in := Input{
		ServerID: server.ID,
		Live:     live,
		Users:    users,
		Active:   active,
		Resume:   resume,
		Now:      now,
		NewID:    e.newID,
	}
	if e.locator != nil {
		in.Locate = e.locator.Locate
	}
	changes := Plan(in)
	after := ActiveAfter(active, changes)

	owners, err := e.owners(ctx, users, changes.Stopped, after)
	if err != nil {
		return nil, err
	}

	updates := make([]*models.Session, 0, len(changes.Updated)+len(changes.Stopped))
	updates = append(updates, changes.Stopped...)
	updates = append(updates, changes.Updated...)
	if err := e.store.ApplySessionChanges(ctx, changes.New, updates); err != nil {
		return nil, fmt.Errorf("apply session changes: %w", err)
	}

	recordTransitions(changes)
	if !changes.Empty() {
		logging.Debug().
			Str("server_id", server.ID).
			Int("new", len(changes.New)).
			Int("updated", len(changes.Updated)).
			Int("stopped", len(changes.Stopped)).
			Msg("Reconciled sessions")
	}

	return &Result{Server: server, Changes: changes, Active: after, Users: owners}, nil
}

// owners collects the user of every session the result carries. Owners of
// stopped sessions, and of active rows left untouched this tick, are usually
// not live and are read from the store.
func (e *Engine) owners(ctx context.Context, live map[string]*models.User, sets ...[]*models.Session) (map[string]*models.User, error) {
	owners := make(map[string]*models.User, len(live))
	for _, u := range live {
		owners[u.ID] = u
	}

	var missing []string
	for _, set := range sets {
		for _, s := range set {
			if _, ok := owners[s.UserID]; !ok {
				owners[s.UserID] = nil
				missing = append(missing, s.UserID)
			}
		}
	}
	if len(missing) == 0 {
		return owners, nil
	}

	stored, err := e.store.UsersByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load session owners: %w", err)
	}
	for _, id := range missing {
		owners[id] = stored[id]
	}
	return owners, nil
}

func recordTransitions(c *Changes) {
	metrics.SessionTransitions.WithLabelValues("started").Add(float64(len(c.New)))
	metrics.SessionTransitions.WithLabelValues("updated").Add(float64(len(c.Updated)))
	metrics.SessionTransitions.WithLabelValues("stopped").Add(float64(len(c.Stopped)))
	metrics.SessionTransitions.WithLabelValues("paused").Add(float64(c.Paused))
	metrics.SessionTransitions.WithLabelValues("resumed").Add(float64(c.Resumed))
}
