// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// UpsertServers records the configured servers so sessions can be joined to
// a display name. Existing rows are refreshed.
func (db *DB) UpsertServers(ctx context.Context, servers []models.Server) error {
	if len(servers) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	now := time.Now().UTC()
	for i := range servers {
		s := &servers[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO servers (id, name, type, url, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				url = EXCLUDED.url,
				updated_at = EXCLUDED.updated_at`,
			s.ID, s.Name, string(s.Type), s.URL, now)
		if err != nil {
			return fmt.Errorf("failed to upsert server %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit servers: %w", err)
	}
	return nil
}

// ListServers returns every known server ordered by id.
func (db *DB) ListServers(ctx context.Context) ([]models.Server, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, type, url FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		var s models.Server
		var serverType string
		if err := rows.Scan(&s.ID, &s.Name, &serverType, &s.URL); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		s.Type = models.ServerType(serverType)
		servers = append(servers, s)
	}
	return servers, rows.Err()
}
