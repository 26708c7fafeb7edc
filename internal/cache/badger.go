// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

// BadgerStore keeps the projection in an embedded BadgerDB. The per-user
// index is stored as one marker key per (user, session) pair.
type BadgerStore struct {
	db   *badger.DB
	keys keys
}

// NewBadgerStore opens BadgerDB at path. An empty path runs in memory.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}

	logging.Info().Str("path", path).Bool("in_memory", path == "").Msg("Opened embedded active-session cache")
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) GetActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	var sessions []models.ActiveSession
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.keys.active()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sessions)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger get active sessions: %w", err)
	}
	return sessions, nil
}

func (b *BadgerStore) SetActiveSessions(ctx context.Context, sessions []models.ActiveSession) error {
	if sessions == nil {
		sessions = []models.ActiveSession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode active sessions: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.keys.active()), data)
	})
}

func (b *BadgerStore) SetSession(ctx context.Context, s models.ActiveSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(b.keys.session(s.ID)), data).WithTTL(SessionTTL)
		return txn.SetEntry(e)
	})
}

func (b *BadgerStore) GetSession(ctx context.Context, id string) (*models.ActiveSession, error) {
	var s models.ActiveSession
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.keys.session(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("badger get session %s: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BadgerStore) DeleteSession(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(b.keys.session(id))); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badger delete session %s: %w", id, err)
		}
		return nil
	})
}

func (b *BadgerStore) userKey(userID, sessionID string) []byte {
	return []byte(b.keys.userSessions(userID) + ":" + sessionID)
}

func (b *BadgerStore) AddUserSession(ctx context.Context, userID, sessionID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.userKey(userID, sessionID), []byte(sessionID))
	})
}

func (b *BadgerStore) RemoveUserSession(ctx context.Context, userID, sessionID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(b.userKey(userID, sessionID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badger remove user session: %w", err)
		}
		return nil
	})
}

func (b *BadgerStore) UserSessions(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	prefix := []byte(b.keys.userSessions(userID) + ":")

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list user sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ClearUserSessions drops every per-user index marker.
func (b *BadgerStore) ClearUserSessions(ctx context.Context) error {
	if err := b.db.DropPrefix([]byte(b.keys.userSessions(""))); err != nil {
		return fmt.Errorf("badger clear user sessions: %w", err)
	}
	return nil
}

// Ping reports whether the database is still open.
func (b *BadgerStore) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger cache is closed")
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

var _ ActiveStore = (*BadgerStore)(nil)
