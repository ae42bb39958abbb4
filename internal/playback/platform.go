// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package playback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/callstream/internal/models"
)

var (
	// ErrAutoplayBlocked means the platform refused to start audio without a
	// fresh user gesture. It halts the consumption pass.
	ErrAutoplayBlocked = errors.New("autoplay blocked")

	// ErrAsset covers fetch and decode failures of a single item. The item is
	// skipped.
	ErrAsset = errors.New("audio asset error")

	// ErrNotPlayable is returned by Enqueue for a call without a ready
	// recording.
	ErrNotPlayable = errors.New("call has no playable audio")
)

// Asset locates the audio of one call.
type Asset struct {
	CallID      string
	RecordingID string
	URL         string
	Format      string
}

// Platform is the audio output capability.
type Platform interface {
	// Probe plays a muted near-silent clip and returns ErrAutoplayBlocked
	// if audio output is refused. It may block indefinitely on some
	// platforms; callers bound it with their own timeout.
	Probe(ctx context.Context) error

	// Open fetches and decodes asset into a stopped Primitive.
	Open(ctx context.Context, asset Asset) (Primitive, error)
}

// Primitive is one live audio item.
type Primitive interface {
	// Start begins audible playback.
	Start(ctx context.Context) error

	// Done receives once when playback ends on its own: nil on natural
	// completion, an error if the stream failed mid-play.
	Done() <-chan error

	// SetVolume applies percent (0..100) immediately.
	SetVolume(percent int)

	// Stop halts output and releases the primitive. Safe to call more than
	// once.
	Stop()
}

// AssetResolver turns a call into the asset to play. It runs at dequeue
// time so recordings that became ready after enqueue are found.
type AssetResolver interface {
	Resolve(call *models.CallRecord) (Asset, error)
}

// FeedResolver resolves recordings to the feed server's audio endpoint:
// <base>/api/recordings/<id>/audio.
type FeedResolver struct {
	BaseURL string
}

// Resolve picks the first ready recording of call.
func (r FeedResolver) Resolve(call *models.CallRecord) (Asset, error) {
	rec, ok := call.PlayableRecording()
	if !ok {
		return Asset{}, ErrNotPlayable
	}
	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		return Asset{}, fmt.Errorf("%w: no feed url configured", ErrAsset)
	}
	return Asset{
		CallID:      call.ID,
		RecordingID: rec.ID,
		URL:         base + "/api/recordings/" + url.PathEscape(rec.ID) + "/audio",
		Format:      strings.ToLower(rec.Format),
	}, nil
}
