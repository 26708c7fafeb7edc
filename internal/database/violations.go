// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/streamwarden/internal/models"
)

const violationColumns = `id, rule_id, user_id, session_id, severity, data, acknowledged_at, created_at`

// InsertViolationWithPenalty stores a violation and lowers the user's trust
// score by penalty in one transaction. The subtraction is evaluated by the
// database and floored at zero. Writes to users are serialized and conflicts
// replayed, so concurrent penalties for one user all land.
func (db *DB) InsertViolationWithPenalty(ctx context.Context, v *models.Violation, penalty int) error {
	defer db.lockUsers()()
	return retryOnConflict(ctx, "insert violation", func() error {
		return db.insertViolationWithPenalty(ctx, v, penalty)
	})
}

func (db *DB) insertViolationWithPenalty(ctx context.Context, v *models.Violation, penalty int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	data := "{}"
	if len(v.Data) > 0 {
		data = string(v.Data)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO violations (`+violationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.RuleID, v.UserID, v.SessionID, string(v.Severity), data,
		utcPtr(v.AcknowledgedAt), v.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert violation: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET trust_score = GREATEST(0, trust_score - ?) WHERE id = ?`,
		penalty, v.UserID)
	if err != nil {
		return fmt.Errorf("failed to decrement trust score: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", v.UserID, ErrUserNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit violation: %w", err)
	}
	return nil
}

// ViolationsForUser returns a user's violations, newest first.
func (db *DB) ViolationsForUser(ctx context.Context, userID string) ([]*models.Violation, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+violationColumns+` FROM violations WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []*models.Violation
	for rows.Next() {
		var v models.Violation
		var severity, data string
		if err := rows.Scan(&v.ID, &v.RuleID, &v.UserID, &v.SessionID, &severity, &data,
			&v.AcknowledgedAt, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Severity = models.Severity(severity)
		v.Data = []byte(data)
		violations = append(violations, &v)
	}
	return violations, rows.Err()
}
