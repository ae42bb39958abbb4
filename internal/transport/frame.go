// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package transport holds the JSON frame format shared by the websocket and
// NATS push transports, and the decoding of event frames into channel events.
//
// Frames:
//
//	{"type":"invoke","id":"<uuid>","method":"subscribe-talkgroup","args":[42]}
//	{"type":"result","id":"<uuid>","error":"talkgroup not found"}
//	{"type":"event","event":"call-upserted","data":{...}}
package transport

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/models"
)

// Frame types.
const (
	FrameInvoke = "invoke"
	FrameResult = "result"
	FrameEvent  = "event"
)

// Event names on the wire.
const (
	EventCallUpserted          = "call-upserted"
	EventSubscriptionConfirmed = "subscription-confirmed"
	EventSubscriptionDenied    = "subscription-denied"
)

// ErrMalformedFrame marks a frame that cannot be decoded into an event.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnknownEvent marks a well-formed event frame with an unrecognised name.
var ErrUnknownEvent = errors.New("unknown event")

// Frame is the envelope for every message in either direction.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   []interface{}   `json:"args,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RemoteError is a failure reported by the server in a result frame.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Method, e.Message)
}

type confirmationData struct {
	TalkgroupID *int64 `json:"talkgroup_id"`
	Granted     *bool  `json:"granted,omitempty"`
}

// DecodeEvent converts an event frame into a channel event.
//
// A subscription-confirmed frame without "granted" counts as granted; a
// subscription-denied frame is always a denial. A call-upserted payload is
// decoded but not validated; the call list decides what to do with a call
// that has no identity.
func DecodeEvent(f *Frame) (channel.Event, error) {
	if f.Type != FrameEvent {
		return nil, fmt.Errorf("%w: type %q is not an event", ErrMalformedFrame, f.Type)
	}

	switch f.Event {
	case EventCallUpserted:
		var call models.CallRecord
		if err := json.Unmarshal(f.Data, &call); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedFrame, f.Event, err)
		}
		return channel.CallUpserted{Call: &call}, nil

	case EventSubscriptionConfirmed, EventSubscriptionDenied:
		var d confirmationData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedFrame, f.Event, err)
		}
		if d.TalkgroupID == nil {
			return nil, fmt.Errorf("%w: %s without talkgroup_id", ErrMalformedFrame, f.Event)
		}
		granted := f.Event == EventSubscriptionConfirmed
		if granted && d.Granted != nil {
			granted = *d.Granted
		}
		return channel.SubscriptionConfirmed{TalkgroupID: *d.TalkgroupID, Granted: granted}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// EncodeEvent builds an event frame, the inverse of DecodeEvent.
func EncodeEvent(ev channel.Event) (*Frame, error) {
	var (
		name string
		data interface{}
	)
	switch e := ev.(type) {
	case channel.CallUpserted:
		name, data = EventCallUpserted, e.Call
	case channel.SubscriptionConfirmed:
		name = EventSubscriptionConfirmed
		if !e.Granted {
			name = EventSubscriptionDenied
		}
		id := e.TalkgroupID
		data = confirmationData{TalkgroupID: &id}
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrUnknownEvent, ev.EventName())
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return &Frame{Type: FrameEvent, Event: name, Data: raw}, nil
}
