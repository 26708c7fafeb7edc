// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a YAML file and points CONFIG_PATH at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Poller.Enabled {
		t.Error("expected poller enabled by default")
	}
	if cfg.Poller.Interval != 15*time.Second {
		t.Errorf("Poller.Interval = %v, want 15s", cfg.Poller.Interval)
	}
	if cfg.Database.Path != "/data/streamwarden.duckdb" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Detection.HistoryWindow != 24*time.Hour {
		t.Errorf("Detection.HistoryWindow = %v, want 24h", cfg.Detection.HistoryWindow)
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("expected no servers by default, got %d", len(cfg.Servers))
	}
	if !cfg.Cache.Enabled || cfg.Cache.BadgerPath != "" {
		t.Errorf("expected in-memory embedded cache by default, got %+v", cfg.Cache)
	}
}

func TestLoadConfigFile(t *testing.T) {
	writeConfig(t, `
poller:
  interval: 30s
servers:
  - id: plex-main
    name: Living Room
    type: plex
    url: http://plex.local:32400/
    token: abc
  - id: jf
    type: jellyfin
    url: http://jellyfin.local:8096
    token: def
    timeout: 3s
redis:
  enabled: true
  addr: redis:6379
logging:
  level: warn
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Poller.Interval != 30*time.Second {
		t.Errorf("Poller.Interval = %v, want 30s", cfg.Poller.Interval)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if cfg.Servers[0].URL != "http://plex.local:32400" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Servers[0].URL)
	}
	if cfg.Servers[0].Timeout != DefaultServerTimeout {
		t.Errorf("expected default timeout, got %v", cfg.Servers[0].Timeout)
	}
	if cfg.Servers[1].Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.Servers[1].Timeout)
	}
	if cfg.Servers[1].DisplayName() != "jf" {
		t.Errorf("DisplayName() = %q, want jf", cfg.Servers[1].DisplayName())
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	writeConfig(t, `
poller:
  interval: 30s
server:
  port: 8080
`)
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("Poller.Interval = %v, want 5s", cfg.Poller.Interval)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.local" {
		t.Errorf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Redis.Enabled {
		t.Error("expected REDIS_ENABLED to enable redis")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Servers = []ServerConfig{{
			ID: "plex", Type: "plex", URL: "http://plex.local:32400", Token: "t", Timeout: time.Second,
		}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "unknown server type",
			mutate:  func(c *Config) { c.Servers[0].Type = "kodi" },
			wantErr: "Servers[0].Type",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Servers[0].Token = "" },
			wantErr: "Servers[0].Token",
		},
		{
			name:    "bad url",
			mutate:  func(c *Config) { c.Servers[0].URL = "not a url" },
			wantErr: "Servers[0].URL",
		},
		{
			name: "duplicate ids",
			mutate: func(c *Config) {
				c.Servers = append(c.Servers, c.Servers[0])
			},
			wantErr: "duplicate server id",
		},
		{
			name:    "interval too small",
			mutate:  func(c *Config) { c.Poller.Interval = 100 * time.Millisecond },
			wantErr: "Poller.Interval",
		},
		{
			name:    "redis enabled without addr",
			mutate:  func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" },
			wantErr: "Redis.Addr",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Logging.Format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"POLL_INTERVAL": "poller.interval",
		"DUCKDB_PATH":   "database.path",
		"redis_addr":    "redis.addr",
		"LOG_LEVEL":     "logging.level",
		"HOME":          "",
		"PATH":          "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPConfigAddr(t *testing.T) {
	t.Parallel()

	h := HTTPConfig{Host: "127.0.0.1", Port: 3858}
	if h.Addr() != "127.0.0.1:3858" {
		t.Errorf("Addr() = %q", h.Addr())
	}
}
