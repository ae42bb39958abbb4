// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package transport

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/models"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   string
		want    channel.Event
		wantErr error
	}{
		{
			name:  "confirmed",
			frame: `{"type":"event","event":"subscription-confirmed","data":{"talkgroup_id":42}}`,
			want:  channel.SubscriptionConfirmed{TalkgroupID: 42, Granted: true},
		},
		{
			name:  "confirmed with explicit denial",
			frame: `{"type":"event","event":"subscription-confirmed","data":{"talkgroup_id":42,"granted":false}}`,
			want:  channel.SubscriptionConfirmed{TalkgroupID: 42, Granted: false},
		},
		{
			name:  "denied",
			frame: `{"type":"event","event":"subscription-denied","data":{"talkgroup_id":7,"granted":true}}`,
			want:  channel.SubscriptionConfirmed{TalkgroupID: 7, Granted: false},
		},
		{
			name:    "confirmation without id",
			frame:   `{"type":"event","event":"subscription-confirmed","data":{}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown event",
			frame:   `{"type":"event","event":"system-upserted","data":{}}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name:    "not an event",
			frame:   `{"type":"result","id":"x"}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "bad call payload",
			frame:   `{"type":"event","event":"call-upserted","data":"nope"}`,
			wantErr: ErrMalformedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var f Frame
			if err := json.Unmarshal([]byte(tt.frame), &f); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			got, err := DecodeEvent(&f)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeEvent() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeEvent() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeCallUpserted(t *testing.T) {
	t.Parallel()

	f := Frame{
		Type:  FrameEvent,
		Event: EventCallUpserted,
		Data:  json.RawMessage(`{"id":"c1","talkgroup_id":9,"recordings":[{"id":"r1","ready":true,"format":"mp3"}]}`),
	}
	ev, err := DecodeEvent(&f)
	if err != nil {
		t.Fatal(err)
	}
	up, ok := ev.(channel.CallUpserted)
	if !ok {
		t.Fatalf("expected CallUpserted, got %T", ev)
	}
	if up.Call.ID != "c1" || up.Call.TalkgroupID != 9 || !up.Call.HasPlayableAudio() {
		t.Errorf("unexpected call: %+v", up.Call)
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	t.Parallel()

	events := []channel.Event{
		channel.SubscriptionConfirmed{TalkgroupID: 42, Granted: true},
		channel.SubscriptionConfirmed{TalkgroupID: 43, Granted: false},
	}
	for _, ev := range events {
		f, err := EncodeEvent(ev)
		if err != nil {
			t.Fatalf("EncodeEvent(%v): %v", ev, err)
		}
		back, err := DecodeEvent(f)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		if back != ev {
			t.Errorf("round trip = %#v, want %#v", back, ev)
		}
	}

	f, err := EncodeEvent(channel.CallUpserted{Call: &models.CallRecord{ID: "c5", TalkgroupID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeEvent(f)
	if err != nil {
		t.Fatal(err)
	}
	if back.(channel.CallUpserted).Call.ID != "c5" {
		t.Errorf("call id lost in round trip")
	}

	if _, err := EncodeEvent(channel.ConnectionChanged{State: channel.StateClosed}); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent for lifecycle events, got %v", err)
	}
}

func TestRemoteError(t *testing.T) {
	t.Parallel()

	err := &RemoteError{Method: channel.MethodSubscribeTalkgroup, Message: "not permitted"}
	if err.Error() != "subscribe-talkgroup rejected: not permitted" {
		t.Errorf("Error() = %q", err.Error())
	}
}
