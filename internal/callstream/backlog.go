// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

/*
backlog.go - Feed Server Backlog Client

Fetches pages of past calls from the feed server's data API:

	GET <base>/api/calls?page=<p>&size=<n>   ->   {"calls": [...]}

Requests are paced by a token bucket so repeated reloads cannot flood the
server, and run through a circuit breaker so an unreachable server fails
fast instead of holding every caller for the full timeout.
*/

//nolint:staticcheck // File documentation, not package doc
package callstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/callstream/internal/breaker"
	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/config"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/models"
)

// BacklogConfig configures HTTPBacklog.
type BacklogConfig struct {
	BaseURL string
	Token   string

	// Rate is the number of page requests allowed per second.
	Rate    float64
	Timeout time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// BacklogConfigFrom extracts the backlog settings from cfg.
func BacklogConfigFrom(cfg *config.Config) BacklogConfig {
	return BacklogConfig{
		BaseURL:         cfg.Feed.URL,
		Token:           cfg.Feed.Token,
		Rate:            cfg.Calls.BacklogRate,
		Timeout:         cfg.Calls.FetchTimeout,
		BreakerFailures: cfg.Transport.BreakerFailures,
		BreakerTimeout:  cfg.Transport.BreakerTimeout,
	}
}

type backlogPage struct {
	Calls []*models.CallRecord `json:"calls"`
}

// HTTPBacklog implements Backlog against the feed server's data API.
type HTTPBacklog struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[interface{}]
}

// NewHTTPBacklog creates a backlog client for cfg.BaseURL.
func NewHTTPBacklog(cfg BacklogConfig) *HTTPBacklog {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPBacklog{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		cb: breaker.New(breaker.Settings{
			Name:     "backlog",
			Failures: cfg.BreakerFailures,
			Timeout:  cfg.BreakerTimeout,
		}),
	}
}

// FetchPage returns page (zero based) of at most size calls. Transport
// failures, breaker rejections and non-2xx answers wrap channel.ErrTransport.
func (b *HTTPBacklog) FetchPage(ctx context.Context, page, size int) ([]*models.CallRecord, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("backlog rate limit: %w", err)
	}

	start := time.Now()
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.fetch(ctx, page, size)
	})
	metrics.BacklogFetchDuration.Observe(time.Since(start).Seconds())

	if breaker.IsOpen(err) {
		return nil, fmt.Errorf("%w: backlog: %w", channel.ErrTransport, err)
	}
	if err != nil {
		return nil, err
	}
	calls, ok := result.([]*models.CallRecord)
	if !ok {
		return nil, fmt.Errorf("%w: backlog: unexpected result type %T", channel.ErrTransport, result)
	}
	return calls, nil
}

func (b *HTTPBacklog) fetch(ctx context.Context, page, size int) ([]*models.CallRecord, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	reqURL := b.baseURL + "/api/calls?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: backlog request: %w", channel.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: backlog: unexpected status %d", channel.ErrTransport, resp.StatusCode)
	}

	var body backlogPage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode backlog: %w", channel.ErrTransport, err)
	}
	return body.Calls, nil
}
