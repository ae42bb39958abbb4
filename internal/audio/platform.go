// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package audio implements playback.Platform on the local sound device with
// beep.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/tomtom215/callstream/internal/config"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/playback"
)

const (
	DefaultSampleRate = beep.SampleRate(44100)
	SpeakerBufferSize = 250 * time.Millisecond
	ProbeDuration     = 100 * time.Millisecond

	// Volume curve: 100% is 0 dB, lower percentages fall off to MinVolumeDB.
	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0

	resampleQuality = 4
)

// Speaker is the audio device. The beep speaker package is the production
// implementation.
type Speaker interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

type systemSpeaker struct{}

func (systemSpeaker) Init(sr beep.SampleRate, n int) error { return speaker.Init(sr, n) }
func (systemSpeaker) Play(s beep.Streamer)                  { speaker.Play(s) }
func (systemSpeaker) Lock()                                 { speaker.Lock() }
func (systemSpeaker) Unlock()                               { speaker.Unlock() }

// SystemSpeaker returns the default sound device.
func SystemSpeaker() Speaker { return systemSpeaker{} }

// Config configures a BeepPlatform.
type Config struct {
	SampleRate int
	Fetcher    FetcherConfig
}

// ConfigFrom extracts the platform settings from cfg.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SampleRate: cfg.Playback.SampleRate,
		Fetcher: FetcherConfig{
			Token:     cfg.Feed.Token,
			Timeout:   cfg.Calls.FetchTimeout,
			CacheSize: cfg.Playback.CacheSize,
			CacheTTL:  cfg.Playback.CacheTTL,

			BreakerFailures: cfg.Transport.BreakerFailures,
			BreakerTimeout:  cfg.Transport.BreakerTimeout,
		},
	}
}

// BeepPlatform plays fetched recordings on one Speaker. The speaker is
// initialised on first use; a device that cannot be opened counts as
// autoplay being refused.
type BeepPlatform struct {
	spk     Speaker
	fetcher *Fetcher
	rate    beep.SampleRate
	log     zerolog.Logger

	initMu  sync.Mutex
	initErr error
	inited  bool
}

// NewBeepPlatform creates a platform writing to spk.
func NewBeepPlatform(spk Speaker, cfg Config) *BeepPlatform {
	rate := DefaultSampleRate
	if cfg.SampleRate > 0 {
		rate = beep.SampleRate(cfg.SampleRate)
	}
	return &BeepPlatform{
		spk:     spk,
		fetcher: NewFetcher(cfg.Fetcher),
		rate:    rate,
		log:     logging.WithComponent("audio"),
	}
}

func (p *BeepPlatform) ensureSpeaker() error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.inited {
		return p.initErr
	}
	p.inited = true
	if err := p.spk.Init(p.rate, p.rate.N(SpeakerBufferSize)); err != nil {
		p.initErr = fmt.Errorf("%w: initialize speaker: %w", playback.ErrAutoplayBlocked, err)
		p.log.Error().Err(err).Msg("Audio device unavailable")
		return p.initErr
	}
	p.log.Debug().Int("sample_rate", int(p.rate)).Msg("Speaker initialized")
	return nil
}

// Probe plays a short silent clip and waits for the device to drain it.
func (p *BeepPlatform) Probe(ctx context.Context) error {
	if err := p.ensureSpeaker(); err != nil {
		return err
	}
	drained := make(chan struct{})
	var once sync.Once
	clip := &effects.Volume{
		Streamer: beep.Silence(p.rate.N(ProbeDuration)),
		Base:     2,
		Silent:   true,
	}
	p.spk.Play(beep.Seq(clip, beep.Callback(func() { once.Do(func() { close(drained) }) })))

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: probe did not drain: %w", playback.ErrAutoplayBlocked, ctx.Err())
	}
}

// Open fetches and decodes asset.
func (p *BeepPlatform) Open(ctx context.Context, asset playback.Asset) (playback.Primitive, error) {
	data, err := p.fetcher.Fetch(ctx, asset)
	if err != nil {
		return nil, err
	}
	stream, format, err := decode(data, asset.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", playback.ErrAsset, asset.RecordingID, err)
	}

	var src beep.Streamer = stream
	if format.SampleRate != p.rate {
		src = beep.Resample(resampleQuality, format.SampleRate, p.rate, stream)
	}
	volume := &effects.Volume{Streamer: src, Base: 2}
	return &primitive{
		platform: p,
		stream:   stream,
		volume:   volume,
		ctrl:     &beep.Ctrl{Streamer: volume},
		done:     make(chan error, 1),
	}, nil
}

// decode picks the decoder by format, falling back to sniffing the RIFF
// header when the format is unknown.
func decode(data []byte, format string) (beep.StreamSeekCloser, beep.Format, error) {
	switch {
	case format == "wav", format == "" && bytes.HasPrefix(data, []byte("RIFF")):
		return wav.Decode(bytes.NewReader(data))
	case format == "mp3", format == "":
		return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format %q", format)
	}
}

type primitive struct {
	platform *BeepPlatform
	stream   beep.StreamSeekCloser
	volume   *effects.Volume
	ctrl     *beep.Ctrl
	done     chan error
	stopOnce sync.Once
}

func (p *primitive) Start(_ context.Context) error {
	if err := p.platform.ensureSpeaker(); err != nil {
		return err
	}
	p.platform.spk.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		select {
		case p.done <- p.stream.Err():
		default:
		}
	})))
	return nil
}

func (p *primitive) Done() <-chan error { return p.done }

func (p *primitive) SetVolume(percent int) {
	p.platform.spk.Lock()
	p.volume.Volume = percentToDB(float64(percent))
	p.volume.Silent = percent <= 0
	p.platform.spk.Unlock()
}

// Stop detaches the stream from the mixer and closes the decoder.
func (p *primitive) Stop() {
	p.stopOnce.Do(func() {
		p.platform.spk.Lock()
		p.ctrl.Streamer = nil
		p.platform.spk.Unlock()
		if err := p.stream.Close(); err != nil {
			p.platform.log.Debug().Err(err).Msg("Closing decoder")
		}
	})
}

func percentToDB(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}
	return (1.0 - math.Pow(p/100.0, VolumeCurveExponent)) * MinVolumeDB
}
