// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package main

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/streamwarden/internal/api"
	"github.com/tomtom215/streamwarden/internal/cache"
	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/pubsub"
)

// activeCache is the selected active-session backend. A nil *activeCache
// means caching is disabled.
type activeCache struct {
	store cache.ActiveStore

	// redis is set when the backend is Redis so pub/sub can share the
	// connection pool.
	redis *redis.Client
}

func (a *activeCache) activeStore() cache.ActiveStore {
	if a == nil {
		return nil
	}
	return a.store
}

func (a *activeCache) pinger() api.Pinger {
	if a == nil {
		return nil
	}
	return a.store
}

// openActiveStore prefers Redis, then the embedded Badger store, then
// nothing. The cache is optional: a backend that cannot be opened is logged
// and the next one is tried.
func openActiveStore(ctx context.Context, cfg *config.Config) *activeCache {
	if cfg.Redis.Enabled {
		store, err := cache.NewRedisStore(ctx, &cfg.Redis)
		if err == nil {
			logging.Info().Str("addr", cfg.Redis.Addr).Msg("Active-session cache: redis")
			return &activeCache{store: store, redis: store.Client()}
		}
		logging.Warn().Err(err).Str("addr", cfg.Redis.Addr).
			Msg("Redis unavailable, continuing without redis cache and pub/sub")
	}

	if cfg.Cache.Enabled {
		store, err := cache.NewBadgerStore(cfg.Cache.BadgerPath)
		if err == nil {
			path := cfg.Cache.BadgerPath
			if path == "" {
				path = "in-memory"
			}
			logging.Info().Str("path", path).Msg("Active-session cache: badger")
			return &activeCache{store: store}
		}
		logging.Warn().Err(err).Msg("Badger cache unavailable")
	}

	logging.Warn().Msg("Active-session cache disabled")
	return nil
}

// openPublishers always publishes to the in-process bus that feeds the
// websocket bridge, plus Redis when the cache connected to it and NATS when
// it can be reached.
func openPublishers(cfg *config.Config, bus *gochannel.GoChannel, active *activeCache) pubsub.Fanout {
	fanout := pubsub.Fanout{pubsub.NewWatermillPublisher(bus, pubsub.TopicEvents)}

	if cfg.Redis.Enabled && active != nil && active.redis != nil {
		fanout = append(fanout, pubsub.NewRedisPublisher(active.redis, cfg.Redis.Channel))
		logging.Info().Str("channel", cfg.Redis.Channel).Msg("Publishing events to redis")
	}

	if cfg.NATS.Enabled {
		nats, err := pubsub.NewNATSPublisher(&cfg.NATS, logging.NewWatermillLogger())
		if err != nil {
			logging.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, events will not be published there")
		} else {
			fanout = append(fanout, nats)
			logging.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("Publishing events to nats")
		}
	}

	return fanout
}
