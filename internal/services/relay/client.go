// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package relay is the client for the upstream media-management relay, the
// thin HTTP facade that translates a generic search request into
// backend-specific arr API calls.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/buildinfo"
	"github.com/relinkarr/relinkarr/internal/domain"
)

// SearchScope selects how much content one search request covers.
type SearchScope string

const (
	ScopeAuto    SearchScope = "auto"
	ScopeSeries  SearchScope = "series"
	ScopeSeason  SearchScope = "season"
	ScopeEpisode SearchScope = "episode"
	ScopeMovie   SearchScope = "movie"
)

// ErrNotConfigured is returned when the relay has no base URL or token.
var ErrNotConfigured = errors.New("relay is not configured")

// ErrPermanent wraps a 4xx response; the request must not be retried.
var ErrPermanent = errors.New("permanent upstream failure")

const maxErrorBodyBytes = 4 << 10

// Client issues search requests against the relay endpoint.
type Client struct {
	cfg        domain.RelayConfig
	httpClient *http.Client
}

// NewClient creates a relay client from config.
func NewClient(cfg domain.RelayConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

// Configured reports whether the client can issue requests.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// RouteFor resolves the backend type for a library path, longest prefix
// wins.
func (c *Client) RouteFor(path string) (domain.Route, bool) {
	return c.cfg.RouteFor(path)
}

// SearchURL builds the relay request URL for a backend type, scope and term.
func (c *Client) SearchURL(backendType string, scope SearchScope, term string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/api/search")
	if err != nil {
		return "", fmt.Errorf("parse relay base url: %w", err)
	}

	q := u.Query()
	q.Set("token", c.cfg.Token)
	q.Set("type", backendType)
	q.Set("scope", string(scope))
	q.Set("term", term)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Search triggers one search on the relay.
//
// 429 and 502/503/504 are retried with backoff; any other 4xx/5xx is a
// permanent failure carrying the response detail.
func (c *Client) Search(ctx context.Context, backendType string, scope SearchScope, term string) error {
	reqURL, err := c.SearchURL(backendType, scope, term)
	if err != nil {
		return err
	}
	return c.Get(ctx, reqURL)
}

// Get performs a GET against a prebuilt relay URL with the retry policy
// applied. Used both for live searches and for replaying queued actions.
func (c *Client) Get(ctx context.Context, reqURL string) error {
	err := retry.Do(
		func() error {
			return c.doGet(ctx, reqURL)
		},
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrPermanent) && ctx.Err() == nil
		}),
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("url", redactToken(reqURL)).Msg("retrying relay request")
		}),
	)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, reqURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %s", ErrPermanent, err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	detail := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: relay returned %d: %s", ErrPermanent, resp.StatusCode, detail)
	}
}

// redactToken hides the token query parameter in logged URLs.
func redactToken(reqURL string) string {
	u, err := url.Parse(reqURL)
	if err != nil {
		return reqURL
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
