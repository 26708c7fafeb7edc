// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

/*
Package reconcile turns one server's live session list into session row
changes.

Each (server, session key) moves through absent, playing, paused and stopped
once per tick by comparing the live list with the server's active rows:

	absent  -> playing/paused  insert, link resume chain, open pause if paused
	playing -> paused          lastPausedAt = now
	paused  -> playing         pausedDurationMs += now - lastPausedAt
	same state                 refresh quality, bitrate and progress
	active  -> stopped         fold open pause, durationMs = elapsed - paused

Plan is pure. Engine loads the inputs, plans, and writes the result in one
transaction.
*/
package reconcile

import (
	"time"

	"github.com/tomtom215/streamwarden/internal/database"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

const (
	// ResumeWindow bounds how long after a stop a new session can continue it.
	ResumeWindow = 24 * time.Hour

	// WatchedThreshold is the progress ratio at which a session counts as watched.
	WatchedThreshold = 0.8
)

// Input is everything Plan needs for one server.
type Input struct {
	ServerID string
	Live     []models.ProcessedSession

	// Users maps backend user ids to resolved internal users.
	Users map[string]*models.User

	// Active holds the server's rows with no stop time.
	Active []*models.Session

	// Resume holds the newest stopped, unwatched session per user and content.
	Resume map[database.ChainKey]*models.Session

	Now   time.Time
	NewID func() string

	// Locate resolves client addresses at creation. Optional.
	Locate func(ip string) (models.Geo, bool)
}

// Changes is the planned outcome for one server. Every slice holds fresh
// copies; input rows are never modified.
type Changes struct {
	New     []*models.Session
	Updated []*models.Session
	Stopped []*models.Session

	// Paused and Resumed count state flips among Updated.
	Paused  int
	Resumed int
}

// Empty reports whether the plan changes nothing.
func (c *Changes) Empty() bool {
	return len(c.New) == 0 && len(c.Updated) == 0 && len(c.Stopped) == 0
}

// ActiveAfter returns the active set that results from applying c to before:
// stopped rows removed, updated rows replaced and new rows appended. Rows of
// before that c does not mention stay as they are.
func ActiveAfter(before []*models.Session, c *Changes) []*models.Session {
	stopped := make(map[string]struct{}, len(c.Stopped))
	for _, s := range c.Stopped {
		stopped[s.ID] = struct{}{}
	}
	updated := make(map[string]*models.Session, len(c.Updated))
	for _, s := range c.Updated {
		updated[s.ID] = s
	}

	out := make([]*models.Session, 0, len(before)+len(c.New))
	seen := make(map[string]struct{}, len(before)+len(c.New))
	add := func(s *models.Session) {
		if _, ok := stopped[s.ID]; ok {
			return
		}
		if _, ok := seen[s.ID]; ok {
			return
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}

	for _, s := range before {
		if u, ok := updated[s.ID]; ok {
			s = u
		}
		add(s)
	}
	for _, s := range c.Updated {
		add(s)
	}
	for _, s := range c.New {
		add(s)
	}
	return out
}

// Plan computes the session changes for one tick.
func Plan(in Input) *Changes {
	out := &Changes{}
	now := in.Now.UTC()

	active, duplicates := indexActive(in.Active)
	for _, s := range duplicates {
		logging.Warn().Str("server_id", s.ServerID).Str("session_key", s.SessionKey).
			Str("session_id", s.ID).Msg("Stopping duplicate active session")
		out.Stopped = append(out.Stopped, stop(s, now))
	}
	matched := make(map[string]struct{}, len(active))
	seen := make(map[string]struct{}, len(in.Live))

	for i := range in.Live {
		live := &in.Live[i]
		if _, dup := seen[live.SessionKey]; dup {
			logging.Debug().Str("server_id", in.ServerID).Str("session_key", live.SessionKey).
				Msg("Duplicate session key in live list, keeping first")
			continue
		}
		seen[live.SessionKey] = struct{}{}

		prior := active[live.SessionKey]
		if prior != nil {
			matched[live.SessionKey] = struct{}{}
		}

		user := in.Users[live.ExternalUserID]
		if user == nil {
			// Leave any active row untouched rather than stopping it.
			logging.Warn().Str("server_id", in.ServerID).Str("external_user_id", live.ExternalUserID).
				Msg("No resolved user for live session, skipping")
			continue
		}

		if prior != nil && mediaChanged(prior, live) {
			out.Stopped = append(out.Stopped, stop(prior, now))
			prior = nil
		}

		if prior == nil {
			out.New = append(out.New, create(in, live, user, now))
			continue
		}

		next, flip := advance(prior, live, now)
		switch flip {
		case models.StatePaused:
			out.Paused++
		case models.StatePlaying:
			out.Resumed++
		}
		out.Updated = append(out.Updated, next)
	}

	for _, s := range in.Active {
		if active[s.SessionKey] != s {
			continue
		}
		if _, ok := matched[s.SessionKey]; ok {
			continue
		}
		out.Stopped = append(out.Stopped, stop(s, now))
	}

	return out
}

// CreationKeys returns the resume lookups Plan will need: one per live entry
// that will become a new row and carries a rating key.
func CreationKeys(live []models.ProcessedSession, users map[string]*models.User, active []*models.Session) []database.ChainKey {
	byKey, _ := indexActive(active)

	var keys []database.ChainKey
	seen := make(map[string]struct{}, len(live))
	for i := range live {
		p := &live[i]
		if _, dup := seen[p.SessionKey]; dup {
			continue
		}
		seen[p.SessionKey] = struct{}{}

		user := users[p.ExternalUserID]
		if user == nil || p.RatingKey == "" {
			continue
		}
		if prior := byKey[p.SessionKey]; prior != nil && !mediaChanged(prior, p) {
			continue
		}
		keys = append(keys, database.ChainKey{UserID: user.ID, RatingKey: p.RatingKey})
	}
	return keys
}

// indexActive maps session keys to active rows. When several rows share a
// key the newest wins and the rest are returned as duplicates.
func indexActive(rows []*models.Session) (map[string]*models.Session, []*models.Session) {
	byKey := make(map[string]*models.Session, len(rows))
	var duplicates []*models.Session
	for _, s := range rows {
		prev, ok := byKey[s.SessionKey]
		if !ok {
			byKey[s.SessionKey] = s
			continue
		}
		if s.StartedAt.After(prev.StartedAt) {
			byKey[s.SessionKey] = s
			duplicates = append(duplicates, prev)
		} else {
			duplicates = append(duplicates, s)
		}
	}
	return byKey, duplicates
}

// mediaChanged reports a session key reused for different content.
func mediaChanged(prior *models.Session, live *models.ProcessedSession) bool {
	return prior.RatingKey != "" && live.RatingKey != "" && prior.RatingKey != live.RatingKey
}

func create(in Input, live *models.ProcessedSession, user *models.User, now time.Time) *models.Session {
	s := &models.Session{
		ID:              in.NewID(),
		ServerID:        in.ServerID,
		UserID:          user.ID,
		SessionKey:      live.SessionKey,
		MediaType:       live.MediaType,
		Title:           live.Title,
		ShowTitle:       live.ShowTitle,
		SeasonNumber:    live.SeasonNumber,
		EpisodeNumber:   live.EpisodeNumber,
		Year:            live.Year,
		PosterPath:      live.PosterPath,
		RatingKey:       live.RatingKey,
		StartedAt:       now,
		TotalDurationMs: live.TotalDurationMs,
		ProgressMs:      live.ProgressMs,
		State:           liveState(live.State),
		IPAddress:       live.IPAddress,
		PlayerName:      live.PlayerName,
		DeviceID:        live.DeviceID,
		Product:         live.Product,
		Device:          live.Device,
		Platform:        live.Platform,
		Quality:         live.Quality,
		IsTranscode:     live.IsTranscode,
		Bitrate:         live.Bitrate,
	}
	if s.State == models.StatePaused {
		s.LastPausedAt = timePtr(now)
	}
	s.Watched = isWatched(s.ProgressMs, s.TotalDurationMs)

	if in.Locate != nil && s.IPAddress != "" {
		if geo, ok := in.Locate(s.IPAddress); ok {
			s.Geo = geo
		}
	}

	if prior := in.Resume[database.ChainKey{UserID: user.ID, RatingKey: s.RatingKey}]; prior != nil && resumes(prior, s, now) {
		ref := prior.ChainRoot()
		s.ReferenceID = &ref
	}
	return s
}

// resumes reports whether s continues prior's watch.
func resumes(prior, s *models.Session, now time.Time) bool {
	if s.RatingKey == "" || prior.RatingKey != s.RatingKey || prior.UserID != s.UserID {
		return false
	}
	if prior.Watched || prior.StoppedAt == nil || now.Sub(*prior.StoppedAt) > ResumeWindow {
		return false
	}
	return int64Value(s.ProgressMs) >= int64Value(prior.ProgressMs)
}

// advance applies a live observation to an active row. flip is the state the
// session entered, or "" when the state is unchanged.
func advance(prior *models.Session, live *models.ProcessedSession, now time.Time) (*models.Session, models.SessionState) {
	s := *prior
	state := liveState(live.State)

	var flip models.SessionState
	switch {
	case s.State != models.StatePaused && state == models.StatePaused:
		s.LastPausedAt = timePtr(now)
		flip = models.StatePaused
	case s.State == models.StatePaused && state == models.StatePlaying:
		foldPause(&s, now)
		flip = models.StatePlaying
	case state == models.StatePaused && s.LastPausedAt == nil:
		s.LastPausedAt = timePtr(now)
	}
	s.State = state

	s.Quality = live.Quality
	s.IsTranscode = live.IsTranscode
	s.Bitrate = live.Bitrate
	if live.ProgressMs != nil {
		s.ProgressMs = live.ProgressMs
	}
	if live.TotalDurationMs != nil {
		s.TotalDurationMs = live.TotalDurationMs
	}
	if isWatched(s.ProgressMs, s.TotalDurationMs) {
		s.Watched = true
	}
	return &s, flip
}

// stop finalizes an active row at now.
func stop(prior *models.Session, now time.Time) *models.Session {
	s := *prior
	foldPause(&s, now)

	elapsed := now.Sub(s.StartedAt).Milliseconds()
	duration := elapsed - s.PausedDurationMs
	if duration < 0 {
		duration = 0
	}

	s.StoppedAt = timePtr(now)
	s.DurationMs = &duration
	s.State = models.StateStopped
	if isWatched(s.ProgressMs, s.TotalDurationMs) {
		s.Watched = true
	}
	return &s
}

// foldPause closes an open pause interval into the accumulated total.
func foldPause(s *models.Session, now time.Time) {
	if s.LastPausedAt == nil {
		return
	}
	if d := now.Sub(*s.LastPausedAt).Milliseconds(); d > 0 {
		s.PausedDurationMs += d
	}
	s.LastPausedAt = nil
}

func isWatched(progress, total *int64) bool {
	if progress == nil || total == nil || *total <= 0 {
		return false
	}
	return float64(*progress)/float64(*total) >= WatchedThreshold
}

func liveState(s models.SessionState) models.SessionState {
	if s == models.StatePaused {
		return models.StatePaused
	}
	return models.StatePlaying
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func int64Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
