// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package sources

import (
	"bytes"
	"net"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/streamwarden/internal/models"
)

// ticksPerMs converts Jellyfin/Emby 100ns ticks to milliseconds.
const ticksPerMs = 10_000

// selectIP returns the public address when the client is remote and one was
// reported, otherwise the reported address. Ports and IPv4-mapped prefixes
// are stripped.
func selectIP(reported, public string, local bool) string {
	if !local && public != "" {
		return cleanIP(public)
	}
	return cleanIP(reported)
}

func cleanIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// selectPoster prefers show artwork, then season artwork, for episodes and
// album artwork for tracks. Everything else uses its own image.
func selectPoster(mediaType models.MediaType, own, parent, grandparent string) string {
	switch mediaType {
	case models.MediaTypeEpisode:
		return firstNonEmpty(grandparent, parent, own)
	case models.MediaTypeTrack:
		return firstNonEmpty(parent, own)
	default:
		return own
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ticksToMs keeps nil as nil and zero as zero.
func ticksToMs(ticks *int64) *int64 {
	if ticks == nil {
		return nil
	}
	ms := *ticks / ticksPerMs
	return &ms
}

// qualityLabel maps a video height to the label shown in dashboards.
func qualityLabel(height int) string {
	switch {
	case height >= 2160:
		return "4K"
	case height >= 1440:
		return "1440p"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height > 0:
		return "SD"
	default:
		return ""
	}
}

// flexString accepts both JSON strings and numbers. Plex is inconsistent
// about which one it sends for identifiers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}
