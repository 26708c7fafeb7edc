// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package config loads Streamwarden configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Poller     PollerConfig     `koanf:"poller"`
	Servers    []ServerConfig   `koanf:"servers" validate:"dive"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	Redis      RedisConfig      `koanf:"redis"`
	NATS       NATSConfig       `koanf:"nats"`
	GeoIP      GeoIPConfig      `koanf:"geoip"`
	Detection  DetectionConfig  `koanf:"detection"`
	Server     HTTPConfig       `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// PollerConfig controls the poll orchestrator.
type PollerConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Interval           time.Duration `koanf:"interval" validate:"min=1s"`
	MaxParallelServers int           `koanf:"max_parallel_servers" validate:"min=1,max=64"`
}

// ServerConfig describes one monitored media server.
type ServerConfig struct {
	ID    string `koanf:"id" validate:"required,max=64"`
	Name  string `koanf:"name"`
	Type  string `koanf:"type" validate:"required,oneof=plex jellyfin emby"`
	URL   string `koanf:"url" validate:"required,url"`
	Token string `koanf:"token" validate:"required"`

	// Timeout bounds a single live-session fetch. Default: 10s
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond paces calls to the server. Zero disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
}

// DisplayName returns Name, falling back to ID.
func (s ServerConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`
}

// CacheConfig configures the embedded active-session cache used when Redis
// is disabled. An empty BadgerPath keeps the cache in memory.
type CacheConfig struct {
	Enabled    bool   `koanf:"enabled"`
	BadgerPath string `koanf:"badger_path"`
}

// RedisConfig configures the active-session cache and Redis pub/sub.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Addr      string `koanf:"addr" validate:"required_if=Enabled true"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"gte=0"`
	KeyPrefix string `koanf:"key_prefix"`
	Channel   string `koanf:"channel"`
}

// NATSConfig configures the optional NATS event publisher.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true"`
	Subject string `koanf:"subject"`
}

// GeoIPConfig configures IP geolocation. An empty path disables lookups.
type GeoIPConfig struct {
	DatabasePath string        `koanf:"database_path"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

// DetectionConfig configures rule evaluation and trust scores.
type DetectionConfig struct {
	Enabled               bool          `koanf:"enabled"`
	SeedDefaultRules      bool          `koanf:"seed_default_rules"`
	HistoryWindow         time.Duration `koanf:"history_window" validate:"min=1m"`
	HistoryLimit          int           `koanf:"history_limit" validate:"min=1,max=10000"`
	TrustRecoveryAmount   int           `koanf:"trust_recovery_amount" validate:"gte=0,lte=100"`
	TrustRecoveryInterval time.Duration `koanf:"trust_recovery_interval"`
}

// HTTPConfig configures the operational HTTP listener.
type HTTPConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `koanf:"cors_origins"`

	// WSRateLimit is the number of websocket upgrades allowed per client IP per minute.
	WSRateLimit int `koanf:"ws_rate_limit" validate:"gte=0"`
}

// Addr returns host:port for the listener.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
