// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/models"
)

const plexFixture = `{
  "MediaContainer": {
    "size": 2,
    "Metadata": [
      {
        "sessionKey": "12",
        "ratingKey": "5501",
        "type": "episode",
        "title": "Good News About Hell",
        "grandparentTitle": "Severance",
        "parentIndex": 1,
        "index": 1,
        "year": 2022,
        "thumb": "/library/metadata/5501/thumb",
        "parentThumb": "/library/metadata/5500/thumb",
        "grandparentThumb": "/library/metadata/5499/thumb",
        "duration": 3420000,
        "viewOffset": 0,
        "User": {"id": "7", "title": "mark", "thumb": "https://plex.tv/users/7/avatar"},
        "Player": {
          "address": "10.0.0.20",
          "remotePublicAddress": "203.0.113.9",
          "local": false,
          "machineIdentifier": "abc123",
          "title": "Living Room TV",
          "product": "Plex for Android (TV)",
          "device": "SHIELD Android TV",
          "platform": "Android",
          "state": "paused"
        },
        "Session": {"id": "s-1", "bandwidth": 8200, "location": "wan"},
        "TranscodeSession": {"videoDecision": "transcode", "audioDecision": "copy", "height": 720},
        "Media": [{"bitrate": 20000, "height": 2160, "videoResolution": "4k"}]
      },
      {
        "sessionKey": "13",
        "ratingKey": "900",
        "type": "movie",
        "title": "Arrival",
        "thumb": "/library/metadata/900/thumb",
        "User": {"id": 8, "title": "helly"},
        "Player": {"address": "192.168.1.40", "remotePublicAddress": "198.51.100.3", "local": true, "state": "buffering"},
        "Media": [{"bitrate": 10000, "videoResolution": "1080"}]
      }
    ]
  }
}`

const jellyfinFixture = `[
  {
    "Id": "sess-a",
    "Client": "Jellyfin Web",
    "DeviceId": "dev-1",
    "DeviceName": "Firefox",
    "DeviceType": "Browser",
    "UserId": "user-1",
    "UserName": "dylan",
    "UserPrimaryImageTag": "tag",
    "RemoteEndPoint": "::ffff:203.0.113.5",
    "NowPlayingItem": {
      "Id": "item-1",
      "Name": "Half Loop",
      "Type": "Episode",
      "SeriesId": "series-1",
      "SeriesName": "Severance",
      "SeasonId": "season-1",
      "IndexNumber": 3,
      "ParentIndexNumber": 1,
      "RunTimeTicks": 34200000000,
      "PrimaryImageTag": "x",
      "MediaStreams": [
        {"Type": "Video", "Height": 1080, "BitRate": 9000000},
        {"Type": "Audio", "BitRate": 640000}
      ]
    },
    "PlayState": {"PositionTicks": 0, "IsPaused": false, "PlayMethod": "DirectPlay"}
  },
  {
    "Id": "sess-idle",
    "UserId": "user-2",
    "UserName": "irving"
  },
  {
    "Id": "sess-b",
    "Client": "Emby Theater",
    "UserId": "user-3",
    "UserName": "burt",
    "RemoteEndPoint": "198.51.100.7",
    "NowPlayingItem": {"Id": "item-2", "Name": "Live Stream", "Type": "TvChannel"},
    "PlayState": {"IsPaused": true}
  }
]`

func decodePlexFixture(t *testing.T) []plexSession {
	t.Helper()
	var resp plexSessionsResponse
	if err := json.Unmarshal([]byte(plexFixture), &resp); err != nil {
		t.Fatalf("failed to decode plex fixture: %v", err)
	}
	return resp.MediaContainer.Metadata
}

func testServerConfig(serverType, url string) config.ServerConfig {
	return config.ServerConfig{
		ID:      serverType + "-test",
		Name:    "Test " + serverType,
		Type:    serverType,
		URL:     url,
		Token:   "secret",
		Timeout: 2 * time.Second,
	}
}

// ============================================================================
// Normalization
// ============================================================================

func TestNormalizePlex_Episode(t *testing.T) {
	sessions := decodePlexFixture(t)

	ps, ok := normalizePlex(&sessions[0])
	if !ok {
		t.Fatal("expected episode to normalize")
	}

	if ps.SessionKey != "12" || ps.RatingKey != "5501" || ps.ExternalUserID != "7" {
		t.Errorf("identity mismatch: %+v", ps)
	}
	if ps.MediaType != models.MediaTypeEpisode || ps.ShowTitle != "Severance" {
		t.Errorf("media mismatch: type=%s show=%s", ps.MediaType, ps.ShowTitle)
	}
	if ps.SeasonNumber == nil || *ps.SeasonNumber != 1 || ps.EpisodeNumber == nil || *ps.EpisodeNumber != 1 {
		t.Errorf("season/episode mismatch: %v/%v", ps.SeasonNumber, ps.EpisodeNumber)
	}
	if ps.PosterPath != "/library/metadata/5499/thumb" {
		t.Errorf("episode should use show artwork, got %s", ps.PosterPath)
	}
	if ps.IPAddress != "203.0.113.9" {
		t.Errorf("remote client should use public address, got %s", ps.IPAddress)
	}
	if ps.State != models.StatePaused {
		t.Errorf("expected paused, got %s", ps.State)
	}
	if ps.ProgressMs == nil || *ps.ProgressMs != 0 {
		t.Errorf("zero view offset must be kept, got %v", ps.ProgressMs)
	}
	if ps.TotalDurationMs == nil || *ps.TotalDurationMs != 3_420_000 {
		t.Errorf("duration mismatch: %v", ps.TotalDurationMs)
	}
	if !ps.IsTranscode || ps.Quality != "720p" || ps.Bitrate != 8200 {
		t.Errorf("playback mismatch: transcode=%v quality=%s bitrate=%d", ps.IsTranscode, ps.Quality, ps.Bitrate)
	}
	if ps.DeviceID != "abc123" || ps.PlayerName != "Living Room TV" || ps.Platform != "Android" {
		t.Errorf("device mismatch: %+v", ps)
	}
}

func TestNormalizePlex_LocalMovie(t *testing.T) {
	sessions := decodePlexFixture(t)

	ps, ok := normalizePlex(&sessions[1])
	if !ok {
		t.Fatal("expected movie to normalize")
	}
	if ps.ExternalUserID != "8" {
		t.Errorf("numeric user id should decode, got %q", ps.ExternalUserID)
	}
	if ps.IPAddress != "192.168.1.40" {
		t.Errorf("local client should use reported address, got %s", ps.IPAddress)
	}
	if ps.PosterPath != "/library/metadata/900/thumb" {
		t.Errorf("movie should use own artwork, got %s", ps.PosterPath)
	}
	if ps.State != models.StatePlaying {
		t.Errorf("buffering should count as playing, got %s", ps.State)
	}
	if ps.ProgressMs != nil || ps.TotalDurationMs != nil {
		t.Errorf("absent offsets must stay nil: %v %v", ps.ProgressMs, ps.TotalDurationMs)
	}
	if ps.Quality != "1080p" || ps.Bitrate != 10000 || ps.IsTranscode {
		t.Errorf("playback mismatch: quality=%s bitrate=%d transcode=%v", ps.Quality, ps.Bitrate, ps.IsTranscode)
	}
}

func TestNormalizePlex_DropsUntrackable(t *testing.T) {
	tests := []struct {
		name    string
		session plexSession
	}{
		{"missing session key", plexSession{Type: "movie", User: &plexUser{ID: "1"}}},
		{"missing user", plexSession{SessionKey: "1", Type: "movie"}},
		{"empty user id", plexSession{SessionKey: "1", Type: "movie", User: &plexUser{}}},
		{"unsupported type", plexSession{SessionKey: "1", Type: "clip", User: &plexUser{ID: "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := normalizePlex(&tt.session); ok {
				t.Error("expected session to be dropped")
			}
		})
	}
}

func TestNormalizeJellyfin(t *testing.T) {
	var raw []jellyfinSession
	if err := json.Unmarshal([]byte(jellyfinFixture), &raw); err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}

	ps, ok := normalizeJellyfin(&raw[0])
	if !ok {
		t.Fatal("expected episode to normalize")
	}
	if ps.TotalDurationMs == nil || *ps.TotalDurationMs != 3_420_000 {
		t.Errorf("ticks not converted: %v", ps.TotalDurationMs)
	}
	if ps.ProgressMs == nil || *ps.ProgressMs != 0 {
		t.Errorf("zero position must stay zero, got %v", ps.ProgressMs)
	}
	if ps.PosterPath != "/Items/series-1/Images/Primary" {
		t.Errorf("episode should use series artwork, got %s", ps.PosterPath)
	}
	if ps.IPAddress != "203.0.113.5" {
		t.Errorf("mapped IPv4 should be unwrapped, got %s", ps.IPAddress)
	}
	if ps.UserThumb != "/Users/user-1/Images/Primary" {
		t.Errorf("user thumb mismatch: %s", ps.UserThumb)
	}
	if ps.Quality != "1080p" || ps.Bitrate != 9640 || ps.IsTranscode {
		t.Errorf("playback mismatch: quality=%s bitrate=%d transcode=%v", ps.Quality, ps.Bitrate, ps.IsTranscode)
	}
	if ps.SeasonNumber == nil || *ps.SeasonNumber != 1 || *ps.EpisodeNumber != 3 {
		t.Errorf("season/episode mismatch")
	}

	if _, ok := normalizeJellyfin(&raw[2]); ok {
		t.Error("unsupported item type must be dropped")
	}
}

func TestSelectIP(t *testing.T) {
	tests := []struct {
		name     string
		reported string
		public   string
		local    bool
		want     string
	}{
		{"remote with public", "10.0.0.2", "203.0.113.1", false, "203.0.113.1"},
		{"remote without public", "10.0.0.2", "", false, "10.0.0.2"},
		{"local ignores public", "10.0.0.2", "203.0.113.1", true, "10.0.0.2"},
		{"strips port", "203.0.113.1:32400", "", true, "203.0.113.1"},
		{"bracketed v6 with port", "[2001:db8::1]:8096", "", true, "2001:db8::1"},
		{"bare v6", "2001:db8::2", "", true, "2001:db8::2"},
		{"empty", "", "", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectIP(tt.reported, tt.public, tt.local); got != tt.want {
				t.Errorf("selectIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectPoster(t *testing.T) {
	if got := selectPoster(models.MediaTypeEpisode, "own", "season", ""); got != "season" {
		t.Errorf("episode without show art should fall back to season, got %s", got)
	}
	if got := selectPoster(models.MediaTypeEpisode, "own", "", ""); got != "own" {
		t.Errorf("episode should fall back to own art, got %s", got)
	}
	if got := selectPoster(models.MediaTypeTrack, "own", "album", "artist"); got != "album" {
		t.Errorf("track should use album art, got %s", got)
	}
}

func TestQualityLabel(t *testing.T) {
	tests := map[int]string{0: "", 360: "SD", 480: "480p", 720: "720p", 1080: "1080p", 1440: "1440p", 2160: "4K"}
	for height, want := range tests {
		if got := qualityLabel(height); got != want {
			t.Errorf("qualityLabel(%d) = %q, want %q", height, got, want)
		}
	}
}

// ============================================================================
// HTTP adapters
// ============================================================================

func TestFetchLive_Plex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Plex-Token") != "secret" {
			t.Errorf("missing plex token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(plexFixture))
	}))
	defer srv.Close()

	a, err := New(testServerConfig("plex", srv.URL+"/"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sessions, err := a.FetchLive(context.Background())
	if err != nil {
		t.Fatalf("FetchLive failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if a.Server().Type != models.ServerTypePlex || a.Server().Name != "Test plex" {
		t.Errorf("unexpected server descriptor: %+v", a.Server())
	}
}

func TestFetchLive_JellyfinAndEmby(t *testing.T) {
	for _, serverType := range []string{"jellyfin", "emby"} {
		t.Run(serverType, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/Sessions" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.Header.Get("X-Emby-Token") != "secret" {
					t.Errorf("missing emby token")
				}
				_, _ = w.Write([]byte(jellyfinFixture))
			}))
			defer srv.Close()

			a, err := New(testServerConfig(serverType, srv.URL))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			sessions, err := a.FetchLive(context.Background())
			if err != nil {
				t.Fatalf("FetchLive failed: %v", err)
			}
			if len(sessions) != 1 || sessions[0].SessionKey != "sess-a" {
				t.Fatalf("expected only the playing episode, got %+v", sessions)
			}
		})
	}
}

func TestFetchLive_EmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"MediaContainer":{"size":0}}`))
	}))
	defer srv.Close()

	a, err := New(testServerConfig("plex", srv.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sessions, err := a.FetchLive(context.Background())
	if err != nil {
		t.Fatalf("FetchLive failed: %v", err)
	}
	if sessions == nil || len(sessions) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", sessions)
	}
}

func TestFetchLive_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"MediaContainer":`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			a, err := New(testServerConfig("plex", srv.URL))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			sessions, err := a.FetchLive(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if sessions != nil {
				t.Errorf("expected nil sessions on error, got %v", sessions)
			}
		})
	}
}

func TestFetchLive_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testServerConfig("jellyfin", srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	if _, err := a.FetchLive(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch was not bounded by the timeout: %v", elapsed)
	}
}

func TestFetchLive_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	a, err := New(testServerConfig("jellyfin", srv.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := a.FetchLive(context.Background()); err != nil {
		t.Fatalf("FetchLive failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestFetchLive_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a, err := New(testServerConfig("plex", srv.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := a.FetchLive(context.Background()); err == nil {
			t.Fatalf("request %d: expected error", i)
		}
	}

	_, err = a.FetchLive(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 10 {
		t.Errorf("open breaker must not reach the server, got %d calls", calls.Load())
	}
	if state := a.(*breakerAdapter).State(); state != gobreaker.StateOpen {
		t.Errorf("expected open state, got %v", state)
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	_, err := New(testServerConfig("kodi", "http://localhost"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry([]config.ServerConfig{
		testServerConfig("plex", "http://plex:32400"),
		testServerConfig("emby", "http://emby:8096"),
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	servers := r.Servers()
	if len(servers) != 2 || servers[0].ID != "plex-test" || servers[1].Type != models.ServerTypeEmby {
		t.Errorf("unexpected servers: %+v", servers)
	}
	if len(r.Adapters()) != 2 {
		t.Errorf("expected 2 adapters")
	}

	if _, err := NewRegistry([]config.ServerConfig{testServerConfig("kodi", "http://x")}); err == nil {
		t.Error("expected error for unsupported server")
	}
}
