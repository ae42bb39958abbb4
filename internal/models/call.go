// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package models defines the call records exchanged with the feed server and
// the envelope used by the local API.
package models

import (
	"errors"
	"time"
)

// ErrMalformedCall marks a call payload that cannot be placed in the call list.
var ErrMalformedCall = errors.New("malformed call")

// Recording is one audio asset attached to a call.
type Recording struct {
	ID     string `json:"id"`
	Ready  bool   `json:"ready"`
	Format string `json:"format"` // "mp3", "wav", ...
}

// TranscriptSegment is one timed span of transcribed speech.
type TranscriptSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// CallRecord is one radio transmission. The same ID may arrive several times
// as recordings become ready or transcription completes.
type CallRecord struct {
	ID           string              `json:"id"`
	TalkgroupID  int64               `json:"talkgroup_id"`
	Timestamp    time.Time           `json:"timestamp"`
	Duration     float64             `json:"duration,omitempty"`
	Frequency    int64               `json:"frequency,omitempty"`
	Source       string              `json:"source,omitempty"`
	Recordings   []Recording         `json:"recordings"`
	Transcript   []TranscriptSegment `json:"transcript,omitempty"`
	TalkgroupTag string              `json:"talkgroup_tag,omitempty"`
}

// Validate reports ErrMalformedCall when the record has no identity.
func (c *CallRecord) Validate() error {
	if c == nil || c.ID == "" {
		return ErrMalformedCall
	}
	return nil
}

// HasPlayableAudio reports whether at least one recording is ready.
func (c *CallRecord) HasPlayableAudio() bool {
	_, ok := c.PlayableRecording()
	return ok
}

// PlayableRecording returns the first ready recording.
func (c *CallRecord) PlayableRecording() (Recording, bool) {
	if c == nil {
		return Recording{}, false
	}
	for _, r := range c.Recordings {
		if r.Ready && r.ID != "" {
			return r, true
		}
	}
	return Recording{}, false
}

// Clone returns a deep copy so buffered records are never shared with callers.
func (c *CallRecord) Clone() *CallRecord {
	if c == nil {
		return nil
	}
	out := *c
	out.Recordings = append([]Recording(nil), c.Recordings...)
	out.Transcript = append([]TranscriptSegment(nil), c.Transcript...)
	return &out
}
