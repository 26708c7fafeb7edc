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

const userColumns = `id, server_id, external_id, username, thumb_url, trust_score, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.ServerID, &u.ExternalID, &u.Username, &u.ThumbURL,
		&u.TrustScore, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersByExternalIDs returns the stored users of a server keyed by external id.
// Unknown ids are simply absent from the map.
func (db *DB) UsersByExternalIDs(ctx context.Context, serverID string, externalIDs []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}

	args := append([]interface{}{serverID}, stringArgs(externalIDs)...)
	users, err := db.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users
		WHERE server_id = ? AND external_id IN (`+placeholders(len(externalIDs))+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ExternalID] = u
	}
	return result, nil
}

// UsersByIDs returns users keyed by internal id.
func (db *DB) UsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	users, err := db.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// GetUser returns a single user or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return u, nil
}

// InsertUsers inserts a batch of new users in one statement. Rows whose
// (server_id, external_id) already exists are skipped; the returned set holds
// the ids that were actually written.
func (db *DB) InsertUsers(ctx context.Context, users []*models.User) (map[string]struct{}, error) {
	inserted := make(map[string]struct{}, len(users))
	if len(users) == 0 {
		return inserted, nil
	}

	const cols = 8
	args := make([]interface{}, 0, len(users)*cols)
	values := make([]byte, 0, len(users)*32)
	for i, u := range users {
		if i > 0 {
			values = append(values, ", "...)
		}
		values = append(values, '(')
		values = append(values, placeholders(cols)...)
		values = append(values, ')')
		args = append(args, u.ID, u.ServerID, u.ExternalID, u.Username, u.ThumbURL,
			u.TrustScore, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	}

	defer db.lockUsers()()
	rows, err := db.conn.QueryContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES `+string(values)+`
		ON CONFLICT (server_id, external_id) DO NOTHING
		RETURNING id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan inserted user id: %w", err)
		}
		inserted[id] = struct{}{}
	}
	return inserted, rows.Err()
}

// UpdateUserProfile refreshes the display fields of a user.
func (db *DB) UpdateUserProfile(ctx context.Context, id, username, thumbURL string, now time.Time) error {
	defer db.lockUsers()()
	err := retryOnConflict(ctx, "update user", func() error {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE users SET username = ?, thumb_url = ?, updated_at = ? WHERE id = ?`,
			username, thumbURL, now.UTC(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	return nil
}

// RecoverTrustScores raises every user below the maximum by amount, clamped at
// models.MaxTrustScore, and returns the number of users touched.
func (db *DB) RecoverTrustScores(ctx context.Context, amount int) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	defer db.lockUsers()()
	var touched int64
	err := retryOnConflict(ctx, "recover trust scores", func() error {
		result, err := db.conn.ExecContext(ctx, `
			UPDATE users
			SET trust_score = LEAST(?, trust_score + ?), updated_at = ?
			WHERE trust_score < ?`,
			models.MaxTrustScore, amount, time.Now().UTC(), models.MaxTrustScore)
		if err != nil {
			return err
		}
		touched, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover trust scores: %w", err)
	}
	return touched, nil
}
