// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package geoip

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

func TestNewReader(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantNil bool
		wantErr bool
	}{
		{name: "empty path returns nil reader", path: "", wantNil: true},
		{name: "nonexistent file returns nil reader", path: "/nonexistent/path/file.mmdb", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewReader(tt.path, time.Hour)
			if tt.wantErr != (err != nil) {
				t.Fatalf("NewReader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantNil && reader != nil {
				t.Errorf("NewReader() expected nil reader")
			}
		})
	}
}

func TestNewReader_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mmdb")
	if err := os.WriteFile(path, []byte("not an mmdb"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	reader, err := NewReader(path, time.Hour)
	if err == nil {
		t.Fatal("expected error for corrupt database")
	}
	if reader != nil {
		t.Error("expected nil reader on error")
	}
}

func TestNilReader(t *testing.T) {
	var r *Reader
	if _, ok := r.Locate("8.8.8.8"); ok {
		t.Error("nil reader must not resolve")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil reader: %v", err)
	}
}

func TestLocate_SkipsPrivateAndInvalid(t *testing.T) {
	calls := 0
	r, err := newReader(func(net.IP) (models.Geo, bool) {
		calls++
		return models.Geo{Country: "US"}, true
	}, time.Hour)
	if err != nil {
		t.Fatalf("newReader failed: %v", err)
	}
	defer r.Close()

	for _, ip := range []string{"", "not-an-ip", "10.1.2.3", "192.168.0.5", "127.0.0.1", "fe80::1", "fd00::1"} {
		if _, ok := r.Locate(ip); ok {
			t.Errorf("Locate(%q) should not resolve", ip)
		}
	}
	if calls != 0 {
		t.Errorf("database should not be queried for skipped addresses, got %d calls", calls)
	}
}

func TestLocate_CachesResults(t *testing.T) {
	lat, lon := 48.85, 2.35
	calls := 0
	r, err := newReader(func(ip net.IP) (models.Geo, bool) {
		calls++
		if ip.String() == "203.0.113.10" {
			return models.Geo{City: "Paris", Country: "FR", Latitude: &lat, Longitude: &lon}, true
		}
		return models.Geo{}, false
	}, time.Hour)
	if err != nil {
		t.Fatalf("newReader failed: %v", err)
	}
	defer r.Close()

	geo, ok := r.Locate("203.0.113.10")
	if !ok || geo.City != "Paris" || !geo.HasCoordinates() {
		t.Fatalf("unexpected first lookup: %+v %v", geo, ok)
	}
	if _, ok := r.Locate("198.51.100.1"); ok {
		t.Fatal("unknown address should not resolve")
	}
	r.cache.Wait()

	geo, ok = r.Locate("203.0.113.10")
	if !ok || geo.Country != "FR" {
		t.Errorf("cached lookup mismatch: %+v", geo)
	}
	if _, ok := r.Locate("198.51.100.1"); ok {
		t.Error("cached miss should stay a miss")
	}
	if calls != 2 {
		t.Errorf("expected 2 database lookups, got %d", calls)
	}
}
