// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package livesync projects committed reconciliation results into the
// active-session cache and publishes session lifecycle events.
//
// Both halves are optional and best-effort. A nil cache or publisher is
// skipped, and errors are logged and counted but never returned: the
// database already holds the truth by the time Sync runs.
package livesync

import (
	"context"

	"github.com/tomtom215/streamwarden/internal/cache"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/pubsub"
	"github.com/tomtom215/streamwarden/internal/reconcile"
)

// Stats counts what one Sync call did.
type Stats struct {
	Active         int
	Published      int
	PublishErrors  int
	CacheErrors    int
	SnapshotStored bool
}

// Synchronizer owns the write side of the cache and the lifecycle events.
type Synchronizer struct {
	cache     cache.ActiveStore
	publisher pubsub.Publisher
}

// New creates a synchronizer. Either argument may be nil.
func New(store cache.ActiveStore, publisher pubsub.Publisher) *Synchronizer {
	return &Synchronizer{cache: store, publisher: publisher}
}

// Snapshot reads the current active set. A missing or failing cache yields
// an empty snapshot, which makes every live session look new to the cache
// only; reconciliation itself works from the database.
func (s *Synchronizer) Snapshot(ctx context.Context) []models.ActiveSession {
	if s.cache == nil {
		return nil
	}
	sessions, err := s.cache.GetActiveSessions(ctx)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get_active").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to read active-session snapshot")
		return nil
	}
	return sessions
}

// Sync applies one tick. previous is the snapshot read at tick start and
// results holds only the servers that reconciled successfully. Their
// snapshot entries are replaced by their committed active rows; entries of
// any other server are carried over unchanged.
func (s *Synchronizer) Sync(ctx context.Context, previous []models.ActiveSession, results []*reconcile.Result) Stats {
	var stats Stats
	snapshot := merge(previous, results)
	stats.Active = len(snapshot)

	for _, res := range results {
		for _, a := range res.ActiveSessions(res.New) {
			s.setSession(ctx, a, &stats)
			s.cacheOp(ctx, "add_user_session", &stats, func() error {
				return s.cache.AddUserSession(ctx, a.UserID, a.ID)
			})
			s.publish(ctx, models.EventSessionStarted, a, &stats)
		}
		for _, a := range res.ActiveSessions(res.Updated) {
			s.setSession(ctx, a, &stats)
			s.publish(ctx, models.EventSessionUpdated, a, &stats)
		}
		for _, a := range res.ActiveSessions(res.Stopped) {
			s.cacheOp(ctx, "delete_session", &stats, func() error {
				return s.cache.DeleteSession(ctx, a.ID)
			})
			s.cacheOp(ctx, "remove_user_session", &stats, func() error {
				return s.cache.RemoveUserSession(ctx, a.UserID, a.ID)
			})
			s.publish(ctx, models.EventSessionStopped, a, &stats)
		}
	}

	if s.cache != nil {
		before := stats.CacheErrors
		s.cacheOp(ctx, "set_active", &stats, func() error {
			return s.cache.SetActiveSessions(ctx, snapshot)
		})
		stats.SnapshotStored = stats.CacheErrors == before
	}

	logging.Ctx(ctx).Debug().
		Int("active", stats.Active).
		Int("published", stats.Published).
		Int("publish_errors", stats.PublishErrors).
		Int("cache_errors", stats.CacheErrors).
		Msg("Live state synchronized")
	return stats
}

// Warm replaces the cache contents with sessions, typically the database's
// active rows at startup. The per-user index is rebuilt from scratch; per-id
// entries of sessions that are gone expire on their own.
func (s *Synchronizer) Warm(ctx context.Context, sessions []models.ActiveSession) Stats {
	var stats Stats
	if s.cache == nil {
		return stats
	}
	s.cacheOp(ctx, "clear_user_sessions", &stats, func() error {
		return s.cache.ClearUserSessions(ctx)
	})
	for _, a := range sessions {
		s.setSession(ctx, a, &stats)
		s.cacheOp(ctx, "add_user_session", &stats, func() error {
			return s.cache.AddUserSession(ctx, a.UserID, a.ID)
		})
	}
	s.cacheOp(ctx, "set_active", &stats, func() error {
		return s.cache.SetActiveSessions(ctx, sessions)
	})
	stats.Active = len(sessions)
	stats.SnapshotStored = stats.CacheErrors == 0
	return stats
}

func (s *Synchronizer) setSession(ctx context.Context, a models.ActiveSession, stats *Stats) {
	s.cacheOp(ctx, "set_session", stats, func() error {
		return s.cache.SetSession(ctx, a)
	})
}

func (s *Synchronizer) cacheOp(ctx context.Context, op string, stats *Stats, fn func() error) {
	if s.cache == nil {
		return
	}
	if err := fn(); err != nil {
		stats.CacheErrors++
		metrics.CacheErrors.WithLabelValues(op).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("operation", op).Msg("Active-session cache write failed")
	}
}

func (s *Synchronizer) publish(ctx context.Context, event string, a models.ActiveSession, stats *Stats) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, a); err != nil {
		stats.PublishErrors++
		metrics.PublishErrors.WithLabelValues(event).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("event", event).Str("session_id", a.ID).Msg("Failed to publish session event")
		return
	}
	stats.Published++
	metrics.EventsPublished.WithLabelValues(event).Inc()
}

// merge computes the new active set. Every server in results is rebuilt
// from its committed active rows, so an entry left behind by an earlier
// failed snapshot write is dropped. Entries of servers absent from results
// carry over unchanged.
func merge(previous []models.ActiveSession, results []*reconcile.Result) []models.ActiveSession {
	committed := make(map[string]struct{}, len(results))
	size := 0
	for _, res := range results {
		committed[res.Server.ID] = struct{}{}
		size += len(res.Active)
	}

	out := make([]models.ActiveSession, 0, len(previous)+size)
	seen := make(map[string]struct{}, len(previous)+size)
	for _, a := range previous {
		if _, ok := committed[a.ServerID]; ok {
			continue
		}
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	for _, res := range results {
		for _, a := range res.ActiveSessions(res.Active) {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
