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
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

// opTimeout bounds every single-key Redis call; clearScanTimeout bounds a
// full keyspace scan.
const (
	opTimeout        = 2 * time.Second
	clearScanTimeout = 5 * time.Second
	clearScanBatch   = 200
)

// RedisStore keeps the projection in Redis:
//
//	<prefix>:active_sessions        JSON array snapshot
//	<prefix>:session:<id>           JSON ActiveSession, expires after SessionTTL
//	<prefix>:user_sessions:<userID> set of session ids
type RedisStore struct {
	client *redis.Client
	keys   keys
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		// Let per-call deadlines shorten socket timeouts.
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logging.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis active-session cache")
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the client
// and closes it on Close.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, keys: newKeys(prefix)}
}

// Client exposes the underlying client so the pub/sub layer can share it.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) GetActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.keys.active()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get active sessions: %w", err)
	}

	var sessions []models.ActiveSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode active sessions: %w", err)
	}
	return sessions, nil
}

func (r *RedisStore) SetActiveSessions(ctx context.Context, sessions []models.ActiveSession) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if sessions == nil {
		sessions = []models.ActiveSession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode active sessions: %w", err)
	}
	if err := r.client.Set(ctx, r.keys.active(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set active sessions: %w", err)
	}
	return nil
}

func (r *RedisStore) SetSession(ctx context.Context, s models.ActiveSession) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.keys.session(s.ID), data, SessionTTL).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) GetSession(ctx context.Context, id string) (*models.ActiveSession, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.keys.session(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}

	var s models.ActiveSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.keys.session(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) AddUserSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.SAdd(ctx, r.keys.userSessions(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("redis add user session: %w", err)
	}
	return nil
}

func (r *RedisStore) RemoveUserSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.SRem(ctx, r.keys.userSessions(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("redis remove user session: %w", err)
	}
	return nil
}

func (r *RedisStore) UserSessions(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.keys.userSessions(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list user sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ClearUserSessions deletes every per-user index set under the prefix.
func (r *RedisStore) ClearUserSessions(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, clearScanTimeout)
	defer cancel()

	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.keys.userSessions("*"), clearScanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan user sessions: %w", err)
		}
		if len(batch) > 0 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis clear user sessions: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks that Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ ActiveStore = (*RedisStore)(nil)
