// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package models

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestCallRecordValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		call    *CallRecord
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing id", &CallRecord{TalkgroupID: 42}, true},
		{"valid", &CallRecord{ID: "c1", TalkgroupID: 42}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.call.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedCall) {
				t.Errorf("expected ErrMalformedCall, got %v", err)
			}
		})
	}
}

func TestHasPlayableAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		recordings []Recording
		want       bool
		wantID     string
	}{
		{"no recordings", nil, false, ""},
		{"none ready", []Recording{{ID: "r1"}, {ID: "r2"}}, false, ""},
		{"second ready", []Recording{{ID: "r1"}, {ID: "r2", Ready: true}}, true, "r2"},
		{"ready without id", []Recording{{Ready: true}}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &CallRecord{ID: "c", Recordings: tt.recordings}
			if got := c.HasPlayableAudio(); got != tt.want {
				t.Errorf("HasPlayableAudio() = %v, want %v", got, tt.want)
			}
			if r, _ := c.PlayableRecording(); r.ID != tt.wantID {
				t.Errorf("PlayableRecording().ID = %q, want %q", r.ID, tt.wantID)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := &CallRecord{ID: "c1", Recordings: []Recording{{ID: "r1"}}}
	cp := orig.Clone()
	cp.Recordings[0].Ready = true

	if orig.Recordings[0].Ready {
		t.Error("mutating the clone changed the original")
	}
}

func TestCallRecordJSON(t *testing.T) {
	t.Parallel()

	payload := `{"id":"c9","talkgroup_id":42,"timestamp":"2026-10-18T12:00:00Z",
		"recordings":[{"id":"r1","ready":true,"format":"mp3"}],
		"transcript":[{"start":0,"end":1.5,"text":"engine 4 responding"}]}`

	var c CallRecord
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.TalkgroupID != 42 || !c.Timestamp.Equal(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected decode: %+v", c)
	}
	if !c.HasPlayableAudio() || len(c.Transcript) != 1 {
		t.Errorf("recordings/transcript not decoded: %+v", c)
	}
}
