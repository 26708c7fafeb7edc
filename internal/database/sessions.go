// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

const sessionColumns = `id, server_id, user_id, session_key, media_type, title, show_title,
	season_number, episode_number, year, poster_path, rating_key,
	started_at, stopped_at, duration_ms, total_duration_ms, progress_ms,
	last_paused_at, paused_duration_ms, state, watched, reference_id,
	ip_address, geo_city, geo_region, geo_country, geo_lat, geo_lon,
	player_name, device_id, product, device, platform,
	quality, is_transcode, bitrate`

const sessionColumnCount = 36

// ChainKey identifies content watched by one user, the unit of resume chaining.
type ChainKey struct {
	UserID    string
	RatingKey string
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var mediaType, state string
	err := row.Scan(
		&s.ID, &s.ServerID, &s.UserID, &s.SessionKey, &mediaType, &s.Title, &s.ShowTitle,
		&s.SeasonNumber, &s.EpisodeNumber, &s.Year, &s.PosterPath, &s.RatingKey,
		&s.StartedAt, &s.StoppedAt, &s.DurationMs, &s.TotalDurationMs, &s.ProgressMs,
		&s.LastPausedAt, &s.PausedDurationMs, &state, &s.Watched, &s.ReferenceID,
		&s.IPAddress, &s.Geo.City, &s.Geo.Region, &s.Geo.Country, &s.Geo.Latitude, &s.Geo.Longitude,
		&s.PlayerName, &s.DeviceID, &s.Product, &s.Device, &s.Platform,
		&s.Quality, &s.IsTranscode, &s.Bitrate,
	)
	if err != nil {
		return nil, err
	}
	s.MediaType = models.MediaType(mediaType)
	s.State = models.SessionState(state)
	return &s, nil
}

func sessionArgs(s *models.Session) []interface{} {
	return []interface{}{
		s.ID, s.ServerID, s.UserID, s.SessionKey, string(s.MediaType), s.Title, s.ShowTitle,
		s.SeasonNumber, s.EpisodeNumber, s.Year, s.PosterPath, s.RatingKey,
		s.StartedAt.UTC(), utcPtr(s.StoppedAt), s.DurationMs, s.TotalDurationMs, s.ProgressMs,
		utcPtr(s.LastPausedAt), s.PausedDurationMs, string(s.State), s.Watched, s.ReferenceID,
		s.IPAddress, s.Geo.City, s.Geo.Region, s.Geo.Country, s.Geo.Latitude, s.Geo.Longitude,
		s.PlayerName, s.DeviceID, s.Product, s.Device, s.Platform,
		s.Quality, s.IsTranscode, s.Bitrate,
	}
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (db *DB) querySessions(ctx context.Context, query string, args ...interface{}) ([]*models.Session, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ActiveSessions returns the sessions of one server that have not stopped.
func (db *DB) ActiveSessions(ctx context.Context, serverID string) ([]*models.Session, error) {
	return db.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = ? AND stopped_at IS NULL
		ORDER BY started_at`, serverID)
}

// AllActiveSessions returns every session that has not stopped, across servers.
func (db *DB) AllActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return db.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE stopped_at IS NULL
		ORDER BY server_id, started_at`)
}

// GetSession returns a single session or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// ResumeCandidates returns, for each requested key, the most recently stopped
// unwatched session that stopped at or after since. Keys with no candidate are
// absent from the map.
func (db *DB) ResumeCandidates(ctx context.Context, keys []ChainKey, since time.Time) (map[ChainKey]*models.Session, error) {
	result := make(map[ChainKey]*models.Session, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	wanted := make(map[ChainKey]struct{}, len(keys))
	userSet := make(map[string]struct{}, len(keys))
	userIDs := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.RatingKey == "" {
			continue
		}
		wanted[k] = struct{}{}
		if _, ok := userSet[k.UserID]; !ok {
			userSet[k.UserID] = struct{}{}
			userIDs = append(userIDs, k.UserID)
		}
	}
	if len(userIDs) == 0 {
		return result, nil
	}

	args := append(stringArgs(userIDs), since.UTC())
	sessions, err := db.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE user_id IN (`+placeholders(len(userIDs))+`)
			AND stopped_at IS NOT NULL
			AND stopped_at >= ?
			AND watched = false
			AND rating_key <> ''
		ORDER BY stopped_at DESC`, args...)
	if err != nil {
		return nil, err
	}

	for _, s := range sessions {
		k := ChainKey{UserID: s.UserID, RatingKey: s.RatingKey}
		if _, ok := wanted[k]; !ok {
			continue
		}
		if _, seen := result[k]; !seen {
			result[k] = s
		}
	}
	return result, nil
}

// RecentSessionsForUsers returns, per user, sessions that started at or after
// since or are still active, newest first, capped at limit rows per user.
func (db *DB) RecentSessionsForUsers(ctx context.Context, userIDs []string, since time.Time, limit int) (map[string][]*models.Session, error) {
	result := make(map[string][]*models.Session, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	args := append(stringArgs(userIDs), since.UTC(), limit)
	sessions, err := db.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE user_id IN (`+placeholders(len(userIDs))+`)
			AND (started_at >= ? OR stopped_at IS NULL)
		QUALIFY row_number() OVER (PARTITION BY user_id ORDER BY started_at DESC) <= ?
		ORDER BY user_id, started_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		result[s.UserID] = append(result[s.UserID], s)
	}
	return result, nil
}

// ApplySessionChanges writes one server's reconciliation result in a single
// transaction: inserts first, then updates. Either everything lands or
// nothing does.
func (db *DB) ApplySessionChanges(ctx context.Context, inserts, updates []*models.Session) error {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}
	return retryOnConflict(ctx, "apply session changes", func() error {
		return db.applySessionChanges(ctx, inserts, updates)
	})
}

func (db *DB) applySessionChanges(ctx context.Context, inserts, updates []*models.Session) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	insertSQL := `INSERT INTO sessions (` + sessionColumns + `) VALUES (` + placeholders(sessionColumnCount) + `)`
	for _, s := range inserts {
		if _, err := tx.ExecContext(ctx, insertSQL, sessionArgs(s)...); err != nil {
			return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
		}
	}

	for _, s := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET
				stopped_at = ?, duration_ms = ?, total_duration_ms = ?, progress_ms = ?,
				last_paused_at = ?, paused_duration_ms = ?, state = ?, watched = ?,
				quality = ?, is_transcode = ?, bitrate = ?
			WHERE id = ?`,
			utcPtr(s.StoppedAt), s.DurationMs, s.TotalDurationMs, s.ProgressMs,
			utcPtr(s.LastPausedAt), s.PausedDurationMs, string(s.State), s.Watched,
			s.Quality, s.IsTranscode, s.Bitrate,
			s.ID)
		if err != nil {
			return fmt.Errorf("failed to update session %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session changes: %w", err)
	}
	return nil
}
