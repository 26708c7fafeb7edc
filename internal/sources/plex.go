// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package sources

import (
	"context"
	"strings"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

// plexSessionsResponse is the body of GET /status/sessions.
type plexSessionsResponse struct {
	MediaContainer struct {
		Size     int           `json:"size"`
		Metadata []plexSession `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexSession struct {
	SessionKey flexString `json:"sessionKey"`
	RatingKey  flexString `json:"ratingKey"`
	Type       string     `json:"type"`

	Title            string `json:"title"`
	ParentTitle      string `json:"parentTitle"`
	GrandparentTitle string `json:"grandparentTitle"`
	ParentIndex      *int   `json:"parentIndex"`
	Index            *int   `json:"index"`
	Year             *int   `json:"year"`

	Thumb            string `json:"thumb"`
	ParentThumb      string `json:"parentThumb"`
	GrandparentThumb string `json:"grandparentThumb"`

	Duration   *int64 `json:"duration"`
	ViewOffset *int64 `json:"viewOffset"`

	User             *plexUser      `json:"User"`
	Player           *plexPlayer    `json:"Player"`
	Session          *plexStream    `json:"Session"`
	TranscodeSession *plexTranscode `json:"TranscodeSession"`
	Media            []plexMedia    `json:"Media"`
}

type plexUser struct {
	ID    flexString `json:"id"`
	Title string     `json:"title"`
	Thumb string     `json:"thumb"`
}

type plexPlayer struct {
	Address             string `json:"address"`
	RemotePublicAddress string `json:"remotePublicAddress"`
	Local               bool   `json:"local"`
	MachineIdentifier   string `json:"machineIdentifier"`
	Title               string `json:"title"`
	Product             string `json:"product"`
	Device              string `json:"device"`
	Platform            string `json:"platform"`
	State               string `json:"state"`
}

type plexStream struct {
	ID        string `json:"id"`
	Bandwidth int    `json:"bandwidth"`
	Location  string `json:"location"`
}

type plexTranscode struct {
	VideoDecision string `json:"videoDecision"`
	AudioDecision string `json:"audioDecision"`
	Height        int    `json:"height"`
}

type plexMedia struct {
	Bitrate         int    `json:"bitrate"`
	Height          int    `json:"height"`
	VideoResolution string `json:"videoResolution"`
}

type plexFetcher struct {
	client   *client
	serverID string
}

func (p *plexFetcher) fetch(ctx context.Context) ([]models.ProcessedSession, error) {
	var resp plexSessionsResponse
	if err := p.client.getJSON(ctx, "/status/sessions", &resp); err != nil {
		return nil, err
	}

	sessions := make([]models.ProcessedSession, 0, len(resp.MediaContainer.Metadata))
	for i := range resp.MediaContainer.Metadata {
		ps, ok := normalizePlex(&resp.MediaContainer.Metadata[i])
		if !ok {
			logging.Debug().
				Str("server_id", p.serverID).
				Str("session_key", string(resp.MediaContainer.Metadata[i].SessionKey)).
				Str("type", resp.MediaContainer.Metadata[i].Type).
				Msg("Skipping Plex session without identity or with unsupported media type")
			continue
		}
		sessions = append(sessions, ps)
	}
	return sessions, nil
}

func plexMediaType(t string) (models.MediaType, bool) {
	switch t {
	case "movie":
		return models.MediaTypeMovie, true
	case "episode":
		return models.MediaTypeEpisode, true
	case "track":
		return models.MediaTypeTrack, true
	default:
		return "", false
	}
}

// normalizePlex converts one Plex session. It reports false for entries that
// cannot be tracked.
func normalizePlex(s *plexSession) (models.ProcessedSession, bool) {
	mediaType, ok := plexMediaType(s.Type)
	if !ok || s.SessionKey == "" || s.User == nil || s.User.ID == "" {
		return models.ProcessedSession{}, false
	}

	ps := models.ProcessedSession{
		SessionKey:      string(s.SessionKey),
		RatingKey:       string(s.RatingKey),
		ExternalUserID:  string(s.User.ID),
		Username:        s.User.Title,
		UserThumb:       s.User.Thumb,
		MediaType:       mediaType,
		Title:           s.Title,
		Year:            s.Year,
		PosterPath:      selectPoster(mediaType, s.Thumb, s.ParentThumb, s.GrandparentThumb),
		State:           models.StatePlaying,
		TotalDurationMs: s.Duration,
		ProgressMs:      s.ViewOffset,
	}

	switch mediaType {
	case models.MediaTypeEpisode:
		ps.ShowTitle = s.GrandparentTitle
		ps.SeasonNumber = s.ParentIndex
		ps.EpisodeNumber = s.Index
	case models.MediaTypeTrack:
		ps.ShowTitle = s.GrandparentTitle
	}

	if p := s.Player; p != nil {
		ps.IPAddress = selectIP(p.Address, p.RemotePublicAddress, p.Local)
		ps.PlayerName = p.Title
		ps.DeviceID = p.MachineIdentifier
		ps.Product = p.Product
		ps.Device = p.Device
		ps.Platform = p.Platform
		if strings.EqualFold(p.State, "paused") {
			ps.State = models.StatePaused
		}
	}

	if t := s.TranscodeSession; t != nil {
		ps.IsTranscode = t.VideoDecision == "transcode" || t.AudioDecision == "transcode"
	}

	var media *plexMedia
	if len(s.Media) > 0 {
		media = &s.Media[0]
	}
	ps.Quality = plexQuality(s.TranscodeSession, media, ps.IsTranscode)

	switch {
	case s.Session != nil && s.Session.Bandwidth > 0:
		ps.Bitrate = s.Session.Bandwidth
	case media != nil:
		ps.Bitrate = media.Bitrate
	}

	return ps, true
}

func plexQuality(t *plexTranscode, media *plexMedia, transcoding bool) string {
	if transcoding && t != nil && t.Height > 0 {
		return qualityLabel(t.Height)
	}
	if media == nil {
		return ""
	}
	switch strings.ToLower(media.VideoResolution) {
	case "":
		return qualityLabel(media.Height)
	case "4k":
		return "4K"
	case "sd":
		return "SD"
	default:
		return media.VideoResolution + "p"
	}
}
