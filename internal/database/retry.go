// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/streamwarden/internal/logging"
)

// maxConflictRetries bounds how often a write is replayed after DuckDB
// reports an optimistic concurrency conflict.
const maxConflictRetries = 5

// isTransactionConflict reports whether err is a DuckDB write-write conflict.
// The driver only exposes these as text.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "cannot update a table that has been altered")
}

// retryOnConflict runs fn until it succeeds, fails with a non-conflict error,
// or maxConflictRetries attempts are spent. fn must be a complete transaction
// so that each attempt starts from committed state.
func retryOnConflict(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt-1)) // 1ms, 2ms, 4ms, 8ms
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isTransactionConflict(err) {
			return err
		}
		lastErr = err
		logging.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Transaction conflict, retrying")
	}
	return fmt.Errorf("%s: %d attempts conflicted: %w", op, maxConflictRetries, lastErr)
}

// lockUsers serializes writes to the users table within this process. Trust
// score penalties, recovery and profile refreshes touch the same rows and
// DuckDB aborts one side of every concurrent update.
func (db *DB) lockUsers() func() {
	db.userMu.Lock()
	return db.userMu.Unlock
}
