// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/callstream/internal/breaker"
	"github.com/tomtom215/callstream/internal/cache"
	"github.com/tomtom215/callstream/internal/metrics"
	"github.com/tomtom215/callstream/internal/playback"
)

// maxAssetBytes caps one recording download.
const maxAssetBytes = 32 << 20

// FetcherConfig configures Fetcher.
type FetcherConfig struct {
	Token     string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// statusError is a non-200 answer for one recording.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

// clientError reports answers about the recording itself, which say nothing
// about the server's health.
func clientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}

// Fetcher downloads recordings and keeps the most recent ones in memory so
// replaying a call does not hit the server again.
type Fetcher struct {
	client *http.Client
	token  string
	cache  *cache.LRU[[]byte]
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		token:  cfg.Token,
		cache:  cache.NewLRU[[]byte](cfg.CacheSize, cfg.CacheTTL),
		cb: breaker.New(breaker.Settings{
			Name:     "audio-fetch",
			Failures: cfg.BreakerFailures,
			Timeout:  cfg.BreakerTimeout,
			Ignore:   clientError,
		}),
	}
}

// Fetch returns the bytes of asset. Every failure wraps playback.ErrAsset.
func (f *Fetcher) Fetch(ctx context.Context, asset playback.Asset) ([]byte, error) {
	if data, ok := f.cache.Get(asset.URL); ok {
		metrics.AssetCacheRequests.WithLabelValues("hit").Inc()
		return data, nil
	}
	metrics.AssetCacheRequests.WithLabelValues("miss").Inc()

	result, err := f.cb.Execute(func() (interface{}, error) {
		return f.fetch(ctx, asset)
	})
	if breaker.IsOpen(err) {
		return nil, fmt.Errorf("%w: fetch %s: %w", playback.ErrAsset, asset.RecordingID, err)
	}
	if err != nil {
		return nil, err
	}
	data, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: fetch %s: unexpected result type %T", playback.ErrAsset, asset.RecordingID, result)
	}
	f.cache.Add(asset.URL, data)
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, asset playback.Asset) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", playback.ErrAsset, err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", playback.ErrAsset, asset.RecordingID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: recording %s: %w", playback.ErrAsset, asset.RecordingID, &statusError{code: resp.StatusCode})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", playback.ErrAsset, asset.RecordingID, err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("%w: recording %s exceeds %d bytes", playback.ErrAsset, asset.RecordingID, maxAssetBytes)
	}
	return data, nil
}
