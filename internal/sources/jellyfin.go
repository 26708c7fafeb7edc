// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package sources

import (
	"context"
	"fmt"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

// jellyfinSession is one entry of GET /Sessions. Emby serves the same shape.
type jellyfinSession struct {
	ID                  string `json:"Id"`
	Client              string `json:"Client"`
	DeviceID            string `json:"DeviceId"`
	DeviceName          string `json:"DeviceName"`
	DeviceType          string `json:"DeviceType"`
	UserID              string `json:"UserId"`
	UserName            string `json:"UserName"`
	UserPrimaryImageTag string `json:"UserPrimaryImageTag"`
	RemoteEndPoint      string `json:"RemoteEndPoint"`

	NowPlayingItem  *jellyfinItem        `json:"NowPlayingItem"`
	PlayState       *jellyfinPlayState   `json:"PlayState"`
	TranscodingInfo *jellyfinTranscoding `json:"TranscodingInfo"`
}

type jellyfinItem struct {
	ID                string `json:"Id"`
	Name              string `json:"Name"`
	Type              string `json:"Type"`
	SeriesID          string `json:"SeriesId"`
	SeriesName        string `json:"SeriesName"`
	SeasonID          string `json:"SeasonId"`
	AlbumID           string `json:"AlbumId"`
	AlbumArtist       string `json:"AlbumArtist"`
	IndexNumber       *int   `json:"IndexNumber"`
	ParentIndexNumber *int   `json:"ParentIndexNumber"`
	ProductionYear    *int   `json:"ProductionYear"`
	RunTimeTicks      *int64 `json:"RunTimeTicks"`
	PrimaryImageTag   string `json:"PrimaryImageTag"`

	MediaStreams []jellyfinMediaStream `json:"MediaStreams"`
}

type jellyfinPlayState struct {
	PositionTicks *int64 `json:"PositionTicks"`
	IsPaused      bool   `json:"IsPaused"`
	PlayMethod    string `json:"PlayMethod"`
}

type jellyfinTranscoding struct {
	IsVideoDirect bool `json:"IsVideoDirect"`
	IsAudioDirect bool `json:"IsAudioDirect"`
	Bitrate       int  `json:"Bitrate"`
	Height        int  `json:"Height"`
}

type jellyfinMediaStream struct {
	Type    string `json:"Type"`
	Height  int    `json:"Height"`
	BitRate int    `json:"BitRate"`
}

type jellyfinFetcher struct {
	client   *client
	serverID string
}

func (j *jellyfinFetcher) fetch(ctx context.Context) ([]models.ProcessedSession, error) {
	var raw []jellyfinSession
	if err := j.client.getJSON(ctx, "/Sessions", &raw); err != nil {
		return nil, err
	}

	sessions := make([]models.ProcessedSession, 0, len(raw))
	for i := range raw {
		if raw[i].NowPlayingItem == nil {
			continue // idle client
		}
		ps, ok := normalizeJellyfin(&raw[i])
		if !ok {
			logging.Debug().
				Str("server_id", j.serverID).
				Str("session_id", raw[i].ID).
				Str("type", raw[i].NowPlayingItem.Type).
				Msg("Skipping session without identity or with unsupported media type")
			continue
		}
		sessions = append(sessions, ps)
	}
	return sessions, nil
}

func jellyfinMediaType(t string) (models.MediaType, bool) {
	switch t {
	case "Movie":
		return models.MediaTypeMovie, true
	case "Episode":
		return models.MediaTypeEpisode, true
	case "Audio":
		return models.MediaTypeTrack, true
	default:
		return "", false
	}
}

func itemImage(id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf("/Items/%s/Images/Primary", id)
}

// normalizeJellyfin converts one Jellyfin or Emby session with a playing item.
func normalizeJellyfin(s *jellyfinSession) (models.ProcessedSession, bool) {
	item := s.NowPlayingItem
	mediaType, ok := jellyfinMediaType(item.Type)
	if !ok || s.ID == "" || s.UserID == "" {
		return models.ProcessedSession{}, false
	}

	own := ""
	if item.PrimaryImageTag != "" {
		own = itemImage(item.ID)
	}
	parent := itemImage(item.SeasonID)
	if mediaType == models.MediaTypeTrack {
		parent = itemImage(item.AlbumID)
	}

	ps := models.ProcessedSession{
		SessionKey:      s.ID,
		RatingKey:       item.ID,
		ExternalUserID:  s.UserID,
		Username:        s.UserName,
		MediaType:       mediaType,
		Title:           item.Name,
		Year:            item.ProductionYear,
		PosterPath:      selectPoster(mediaType, own, parent, itemImage(item.SeriesID)),
		IPAddress:       cleanIP(s.RemoteEndPoint),
		PlayerName:      s.DeviceName,
		DeviceID:        s.DeviceID,
		Product:         s.Client,
		Device:          s.DeviceType,
		Platform:        s.Client,
		State:           models.StatePlaying,
		TotalDurationMs: ticksToMs(item.RunTimeTicks),
	}
	if s.UserPrimaryImageTag != "" {
		ps.UserThumb = fmt.Sprintf("/Users/%s/Images/Primary", s.UserID)
	}

	switch mediaType {
	case models.MediaTypeEpisode:
		ps.ShowTitle = item.SeriesName
		ps.SeasonNumber = item.ParentIndexNumber
		ps.EpisodeNumber = item.IndexNumber
	case models.MediaTypeTrack:
		ps.ShowTitle = item.AlbumArtist
	}

	if st := s.PlayState; st != nil {
		ps.ProgressMs = ticksToMs(st.PositionTicks)
		if st.IsPaused {
			ps.State = models.StatePaused
		}
		ps.IsTranscode = st.PlayMethod == "Transcode"
	}
	if t := s.TranscodingInfo; t != nil && (!t.IsVideoDirect || !t.IsAudioDirect) {
		ps.IsTranscode = true
	}

	sourceHeight, sourceBitrate := 0, 0
	for _, ms := range item.MediaStreams {
		if ms.Type == "Video" && ms.Height > sourceHeight {
			sourceHeight = ms.Height
		}
		if ms.Type == "Video" || ms.Type == "Audio" {
			sourceBitrate += ms.BitRate
		}
	}

	ps.Quality = qualityLabel(sourceHeight)
	ps.Bitrate = sourceBitrate / 1000
	if t := s.TranscodingInfo; t != nil && ps.IsTranscode {
		if t.Height > 0 {
			ps.Quality = qualityLabel(t.Height)
		}
		if t.Bitrate > 0 {
			ps.Bitrate = t.Bitrate / 1000
		}
	}

	return ps, true
}
