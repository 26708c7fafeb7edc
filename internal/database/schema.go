// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package database

import (
	"context"
	"fmt"
)

// No column relies on CURRENT_TIMESTAMP defaults; DuckDB needs ICU for the
// TIMESTAMPTZ cast and the binary does not autoload extensions.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		url VARCHAR NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR PRIMARY KEY,
		server_id VARCHAR NOT NULL,
		external_id VARCHAR NOT NULL,
		username VARCHAR NOT NULL,
		thumb_url VARCHAR NOT NULL DEFAULT '',
		trust_score INTEGER NOT NULL DEFAULT 100,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (server_id, external_id)
	)`,

	// session_key is unique per server only while stopped_at IS NULL. DuckDB
	// has no partial indexes, so the reconcile engine owns that invariant.
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR PRIMARY KEY,
		server_id VARCHAR NOT NULL,
		user_id VARCHAR NOT NULL,
		session_key VARCHAR NOT NULL,
		media_type VARCHAR NOT NULL,
		title VARCHAR NOT NULL,
		show_title VARCHAR NOT NULL DEFAULT '',
		season_number INTEGER,
		episode_number INTEGER,
		year INTEGER,
		poster_path VARCHAR NOT NULL DEFAULT '',
		rating_key VARCHAR NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		stopped_at TIMESTAMP,
		duration_ms BIGINT,
		total_duration_ms BIGINT,
		progress_ms BIGINT,
		last_paused_at TIMESTAMP,
		paused_duration_ms BIGINT NOT NULL DEFAULT 0,
		state VARCHAR NOT NULL,
		watched BOOLEAN NOT NULL DEFAULT false,
		reference_id VARCHAR,
		ip_address VARCHAR NOT NULL DEFAULT '',
		geo_city VARCHAR NOT NULL DEFAULT '',
		geo_region VARCHAR NOT NULL DEFAULT '',
		geo_country VARCHAR NOT NULL DEFAULT '',
		geo_lat DOUBLE,
		geo_lon DOUBLE,
		player_name VARCHAR NOT NULL DEFAULT '',
		device_id VARCHAR NOT NULL DEFAULT '',
		product VARCHAR NOT NULL DEFAULT '',
		device VARCHAR NOT NULL DEFAULT '',
		platform VARCHAR NOT NULL DEFAULT '',
		quality VARCHAR NOT NULL DEFAULT '',
		is_transcode BOOLEAN NOT NULL DEFAULT false,
		bitrate INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_server_key ON sessions(server_id, session_key)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_rating ON sessions(user_id, rating_key)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL UNIQUE,
		type VARCHAR NOT NULL,
		params VARCHAR NOT NULL DEFAULT '{}',
		user_id VARCHAR,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS violations (
		id VARCHAR PRIMARY KEY,
		rule_id VARCHAR NOT NULL,
		user_id VARCHAR NOT NULL,
		session_id VARCHAR NOT NULL,
		severity VARCHAR NOT NULL,
		data VARCHAR NOT NULL DEFAULT '{}',
		acknowledged_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_violations_user ON violations(user_id)`,
}

// InitSchema creates all tables and indexes if they do not exist.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
