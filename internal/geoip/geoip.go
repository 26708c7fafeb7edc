// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package geoip resolves client IP addresses to a city-level location using
// an MMDB database (MaxMind GeoLite2, DB-IP Lite or IP2Location LITE).
//
// A nil *Reader is valid and resolves nothing, so callers can run without a
// database configured.
package geoip

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/oschwald/geoip2-golang"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

const defaultCacheTTL = 6 * time.Hour

type result struct {
	geo models.Geo
	ok  bool
}

// Reader looks up IP addresses and caches the answers, misses included.
type Reader struct {
	db     *geoip2.Reader
	lookup func(net.IP) (models.Geo, bool)
	cache  *ristretto.Cache[string, result]
	ttl    time.Duration
}

// NewReader opens the MMDB file at path.
//
// Returns nil, nil when path is empty or the file does not exist.
// Returns nil, error when the file exists but cannot be opened.
func NewReader(path string, cacheTTL time.Duration) (*Reader, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Str("path", path).Msg("GeoIP database not found, geolocation disabled")
		return nil, nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	r, err := newReader(func(ip net.IP) (models.Geo, bool) { return cityLookup(db, ip) }, cacheTTL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	r.db = db

	logging.Info().Str("path", path).Dur("cache_ttl", r.ttl).Msg("GeoIP database loaded")
	return r, nil
}

func newReader(lookup func(net.IP) (models.Geo, bool), cacheTTL time.Duration) (*Reader, error) {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, result]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create geoip cache: %w", err)
	}
	return &Reader{lookup: lookup, cache: cache, ttl: cacheTTL}, nil
}

// Locate returns the location of ip. It reports false for invalid, private
// and unknown addresses.
func (r *Reader) Locate(ipStr string) (models.Geo, bool) {
	if r == nil || r.lookup == nil {
		return models.Geo{}, false
	}

	ip := net.ParseIP(ipStr)
	if ip == nil || isPrivateIP(ip) {
		return models.Geo{}, false
	}
	key := ip.String()

	if cached, found := r.cache.Get(key); found {
		return cached.geo, cached.ok
	}

	geo, ok := r.lookup(ip)
	r.cache.SetWithTTL(key, result{geo: geo, ok: ok}, 1, r.ttl)
	return geo, ok
}

// Close releases the database and cache.
func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	r.cache.Close()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func cityLookup(db *geoip2.Reader, ip net.IP) (models.Geo, bool) {
	record, err := db.City(ip)
	if err != nil {
		return models.Geo{}, false
	}

	geo := models.Geo{
		City:    record.City.Names["en"],
		Country: record.Country.IsoCode,
	}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].Names["en"]
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		geo.Latitude = &lat
		geo.Longitude = &lon
	}

	if geo.Country == "" && geo.City == "" && !geo.HasCoordinates() {
		return models.Geo{}, false
	}
	return geo, true
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified()
}
