// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// Default history bounds for rule evaluation.
const (
	DefaultHistoryWindow = 24 * time.Hour
	DefaultHistoryLimit  = 100
)

// HistoryStore loads recent sessions for rule evaluation.
type HistoryStore interface {
	RecentSessionsForUsers(ctx context.Context, userIDs []string, since time.Time, limit int) (map[string][]*models.Session, error)
}

// Runner evaluates newly created sessions and records their violations.
type Runner struct {
	history HistoryStore
	writer  *Writer
	window  time.Duration
	limit   int
}

// NewRunner creates a runner. Non-positive bounds fall back to the defaults.
func NewRunner(history HistoryStore, writer *Writer, window time.Duration, limit int) *Runner {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Runner{history: history, writer: writer, window: window, limit: limit}
}

// Run evaluates sessions, which must all be new this tick, against rules.
// users maps internal user ids to owners. History for every owner is loaded
// in one query. It returns the violations recorded; individual write
// failures are logged by the writer and skipped.
func (r *Runner) Run(ctx context.Context, sessions []*models.Session, users map[string]*models.User, rules []*models.Rule, now time.Time) ([]*models.Violation, error) {
	if len(sessions) == 0 || len(rules) == 0 {
		return nil, nil
	}

	userIDs := make([]string, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		if _, ok := seen[s.UserID]; !ok {
			seen[s.UserID] = struct{}{}
			userIDs = append(userIDs, s.UserID)
		}
	}

	history, err := r.history.RecentSessionsForUsers(ctx, userIDs, now.Add(-r.window), r.limit)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}

	var recorded []*models.Violation
	for _, s := range sessions {
		for _, res := range Violations(Evaluate(s, rules, history[s.UserID])) {
			v, err := r.writer.Record(ctx, res.Rule, users[s.UserID], s, res)
			if err != nil {
				continue
			}
			recorded = append(recorded, v)
		}
	}
	return recorded, nil
}
