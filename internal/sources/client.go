// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
)

const (
	clientName    = "Streamwarden"
	clientVersion = "1.0.0"

	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// client is the HTTP transport shared by all backends.
type client struct {
	baseURL    string
	token      string
	serverType models.ServerType
	httpClient *http.Client
	limiter    *rate.Limiter

	maxRetries int
	retryDelay time.Duration
}

func newClient(serverType models.ServerType, cfg config.ServerConfig) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultServerTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		serverType: serverType,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

func (c *client) setAuth(req *http.Request) {
	switch c.serverType {
	case models.ServerTypePlex:
		req.Header.Set("X-Plex-Token", c.token)
		req.Header.Set("X-Plex-Product", clientName)
		req.Header.Set("X-Plex-Client-Identifier", "streamwarden")
	default:
		req.Header.Set("X-Emby-Token", c.token)
		req.Header.Set("X-Emby-Client", clientName)
		req.Header.Set("X-Emby-Device-Name", clientName)
		req.Header.Set("X-Emby-Device-Id", "streamwarden")
		req.Header.Set("X-Emby-Client-Version", clientVersion)
	}
	req.Header.Set("Accept", "application/json")
}

// getJSON performs a GET against path and decodes a 200 response into result.
func (c *client) getJSON(ctx context.Context, path string, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned status %d: %s", c.serverType, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", c.serverType, err)
	}
	return nil
}

// doWithRetry retries HTTP 429 responses with exponential backoff, honoring
// Retry-After when the server sends one.
func (c *client) doWithRetry(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_ = resp.Body.Close()

		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("rate limit exceeded after %d retries", c.maxRetries)
		}

		delay := c.retryDelay * time.Duration(1<<attempt)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				delay = time.Duration(secs) * time.Second
			}
		}

		logging.Warn().
			Str("server_type", string(c.serverType)).
			Dur("retry_delay", delay).
			Int("attempt", attempt+1).
			Msg("Media server rate limited (HTTP 429), retrying")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}
}
