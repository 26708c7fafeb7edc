// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamwarden/config.yaml",
	"/etc/streamwarden/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultServerTimeout bounds a live-session fetch when a server sets none.
const DefaultServerTimeout = 10 * time.Second

func defaultConfig() *Config {
	return &Config{
		Poller: PollerConfig{
			Enabled:            true,
			Interval:           15 * time.Second,
			MaxParallelServers: 4,
		},
		Database: DatabaseConfig{
			Path:      "/data/streamwarden.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "streamwarden",
			Channel:   "streamwarden:events",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "streamwarden.events",
		},
		GeoIP: GeoIPConfig{
			CacheTTL: 6 * time.Hour,
		},
		Detection: DetectionConfig{
			Enabled:               true,
			SeedDefaultRules:      true,
			HistoryWindow:         24 * time.Hour,
			HistoryLimit:          100,
			TrustRecoveryAmount:   1,
			TrustRecoveryInterval: 24 * time.Hour,
		},
		Server: HTTPConfig{
			Host:        "0.0.0.0",
			Port:        3858,
			WSRateLimit: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if any), then
// environment variables. The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.applyServerDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyServerDefaults() {
	for i := range c.Servers {
		if c.Servers[i].Timeout <= 0 {
			c.Servers[i].Timeout = DefaultServerTimeout
		}
		c.Servers[i].URL = strings.TrimRight(c.Servers[i].URL, "/")
	}
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"poll_enabled":      "poller.enabled",
	"poll_interval":     "poller.interval",
	"poll_max_parallel": "poller.max_parallel_servers",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"cache_enabled":     "cache.enabled",
	"cache_badger_path": "cache.badger_path",

	"redis_enabled":    "redis.enabled",
	"redis_addr":       "redis.addr",
	"redis_password":   "redis.password",
	"redis_db":         "redis.db",
	"redis_key_prefix": "redis.key_prefix",
	"redis_channel":    "redis.channel",

	"nats_enabled": "nats.enabled",
	"nats_url":     "nats.url",
	"nats_subject": "nats.subject",

	"geoip_database_path": "geoip.database_path",
	"geoip_cache_ttl":     "geoip.cache_ttl",

	"detection_enabled":            "detection.enabled",
	"detection_seed_default_rules": "detection.seed_default_rules",
	"detection_history_window":     "detection.history_window",
	"detection_history_limit":      "detection.history_limit",
	"trust_recovery_amount":        "detection.trust_recovery_amount",
	"trust_recovery_interval":      "detection.trust_recovery_interval",

	"http_host":     "server.host",
	"http_port":     "server.port",
	"cors_origins":  "server.cors_origins",
	"ws_rate_limit": "server.ws_rate_limit",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_shutdown_timeout": "supervisor.shutdown_timeout",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
