// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package identity maps backend user ids to internal users, creating and
// refreshing them in batches.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

// Store is the persistence the resolver needs.
type Store interface {
	UsersByExternalIDs(ctx context.Context, serverID string, externalIDs []string) (map[string]*models.User, error)
	InsertUsers(ctx context.Context, users []*models.User) (map[string]struct{}, error)
	UpdateUserProfile(ctx context.Context, id, username, thumbURL string, now time.Time) error
}

// Observation is one sighting of a backend user in the live set.
type Observation struct {
	ExternalID string
	Username   string
	ThumbURL   string
}

// ObservationsFrom extracts the user sightings of a live session list.
func ObservationsFrom(sessions []models.ProcessedSession) []Observation {
	obs := make([]Observation, 0, len(sessions))
	for i := range sessions {
		obs = append(obs, Observation{
			ExternalID: sessions[i].ExternalUserID,
			Username:   sessions[i].Username,
			ThumbURL:   sessions[i].UserThumb,
		})
	}
	return obs
}

// Resolver resolves observations to users.
type Resolver struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewResolver creates a resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// Resolve returns the internal user for every distinct external id in obs,
// keyed by external id. It issues one read and at most one batch insert; a
// second read happens only for rows another writer inserted first.
func (r *Resolver) Resolve(ctx context.Context, serverID string, obs []Observation) (map[string]*models.User, error) {
	merged, order := dedupe(obs)
	if len(order) == 0 {
		return map[string]*models.User{}, nil
	}

	users, err := r.store.UsersByExternalIDs(ctx, serverID, order)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	now := r.now()
	var fresh []*models.User
	for _, extID := range order {
		o := merged[extID]
		if u, ok := users[extID]; ok {
			r.refreshProfile(ctx, u, o, now)
			continue
		}
		fresh = append(fresh, &models.User{
			ID:         r.newID(),
			ServerID:   serverID,
			ExternalID: extID,
			Username:   o.Username,
			ThumbURL:   o.ThumbURL,
			TrustScore: models.DefaultTrustScore,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if len(fresh) == 0 {
		return users, nil
	}

	inserted, err := r.store.InsertUsers(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("insert users: %w", err)
	}

	var lost []string
	for _, u := range fresh {
		if _, ok := inserted[u.ID]; ok {
			users[u.ExternalID] = u
		} else {
			lost = append(lost, u.ExternalID)
		}
	}
	if len(lost) == 0 {
		return users, nil
	}

	logging.Debug().Str("server_id", serverID).Int("count", len(lost)).
		Msg("Users created concurrently, re-reading")
	existing, err := r.store.UsersByExternalIDs(ctx, serverID, lost)
	if err != nil {
		return nil, fmt.Errorf("reload users: %w", err)
	}
	for _, extID := range lost {
		u, ok := existing[extID]
		if !ok {
			return nil, fmt.Errorf("user %s/%s missing after insert", serverID, extID)
		}
		users[extID] = u
	}
	return users, nil
}

// refreshProfile updates display fields that drifted. Empty observations
// never overwrite stored values. Failures are logged; the stale profile is
// still usable.
func (r *Resolver) refreshProfile(ctx context.Context, u *models.User, o Observation, now time.Time) {
	username, thumb := u.Username, u.ThumbURL
	if o.Username != "" && o.Username != username {
		username = o.Username
	}
	if o.ThumbURL != "" && o.ThumbURL != thumb {
		thumb = o.ThumbURL
	}
	if username == u.Username && thumb == u.ThumbURL {
		return
	}

	if err := r.store.UpdateUserProfile(ctx, u.ID, username, thumb, now); err != nil {
		logging.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to refresh user profile")
		return
	}
	u.Username, u.ThumbURL, u.UpdatedAt = username, thumb, now
}

// dedupe collapses repeated external ids, keeping the latest non-empty value
// of each display field, and returns ids in first-seen order.
func dedupe(obs []Observation) (map[string]Observation, []string) {
	merged := make(map[string]Observation, len(obs))
	order := make([]string, 0, len(obs))
	for _, o := range obs {
		if o.ExternalID == "" {
			continue
		}
		prev, seen := merged[o.ExternalID]
		if !seen {
			order = append(order, o.ExternalID)
			merged[o.ExternalID] = o
			continue
		}
		if o.Username != "" {
			prev.Username = o.Username
		}
		if o.ThumbURL != "" {
			prev.ThumbURL = o.ThumbURL
		}
		merged[o.ExternalID] = prev
	}
	return merged, order
}
