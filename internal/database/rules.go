// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/streamwarden/internal/models"
)

const ruleColumns = `id, name, type, params, user_id, is_active, created_at`

func scanRule(row rowScanner) (*models.Rule, error) {
	var r models.Rule
	var ruleType, params string
	if err := row.Scan(&r.ID, &r.Name, &ruleType, &params, &r.UserID, &r.IsActive, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Type = models.RuleType(ruleType)
	r.Params = []byte(params)
	return &r, nil
}

func ruleParams(r *models.Rule) string {
	if len(r.Params) == 0 {
		return "{}"
	}
	return string(r.Params)
}

// ActiveRules returns every rule with is_active set, ordered by name.
func (db *DB) ActiveRules(ctx context.Context) ([]*models.Rule, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE is_active = true ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateRule inserts a rule, assigning an id and creation time when unset.
func (db *DB) CreateRule(ctx context.Context, r *models.Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, string(r.Type), ruleParams(r), r.UserID, r.IsActive, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create rule %q: %w", r.Name, err)
	}
	return nil
}

// SetRuleActive enables or disables a rule.
func (db *DB) SetRuleActive(ctx context.Context, id string, active bool) error {
	result, err := db.conn.ExecContext(ctx, `UPDATE rules SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedRules inserts the given rules, skipping any whose name already exists.
// It returns how many were inserted.
func (db *DB) SeedRules(ctx context.Context, rules []*models.Rule) (int, error) {
	inserted := 0
	now := time.Now().UTC()
	for _, r := range rules {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		result, err := db.conn.ExecContext(ctx,
			`INSERT INTO rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO NOTHING`,
			r.ID, r.Name, string(r.Type), ruleParams(r), r.UserID, r.IsActive, r.CreatedAt.UTC())
		if err != nil {
			return inserted, fmt.Errorf("failed to seed rule %q: %w", r.Name, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}
