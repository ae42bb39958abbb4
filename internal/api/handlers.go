// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/logging"
	"github.com/tomtom215/callstream/internal/models"
	"github.com/tomtom215/callstream/internal/playback"
	"github.com/tomtom215/callstream/internal/subscription"
)

// Controller is the session surface the API drives. *livefeed.Session
// satisfies it.
type Controller interface {
	Calls() []*models.CallRecord
	Queue() []*models.CallRecord
	Current() *models.CallRecord
	PlayerState() playback.PlayerState
	Volume() int
	AutoplayPermission() playback.Permission
	Subscriptions() subscription.State
	ConnectionState() channel.State
	IsSubscribed(id int64) bool
	IsPending(id int64) bool

	Subscribe(ctx context.Context, id int64) error
	Unsubscribe(ctx context.Context, id int64) error
	Toggle(ctx context.Context, id int64) (bool, error)

	Enqueue(id string) error
	PlayCall(id string) error
	RemoveFromQueue(id string) bool
	MoveToFront(id string) bool
	ClearQueue()
	Skip()
	SetVolume(percent int) int
	TogglePlayerState() playback.PlayerState
}

// Handler serves the API endpoints.
type Handler struct {
	session   Controller
	clients   func() int
	version   string
	startTime time.Time
}

// NewHandler creates a Handler over session. clients reports the number of
// attached UI clients and may be nil.
func NewHandler(session Controller, clients func() int, version string) *Handler {
	if clients == nil {
		clients = func() int { return 0 }
	}
	return &Handler{
		session:   session,
		clients:   clients,
		version:   version,
		startTime: time.Now(),
	}
}

// PlayerStatus is the player resource.
type PlayerStatus struct {
	State      string             `json:"state"`
	Volume     int                `json:"volume"`
	Permission string             `json:"permission"`
	Current    *models.CallRecord `json:"current"`
	QueueLen   int                `json:"queue_length"`
}

// TalkgroupStatus is the state of one talkgroup after a change.
type TalkgroupStatus struct {
	ID         int64 `json:"id"`
	Subscribed bool  `json:"subscribed"`
	Pending    bool  `json:"pending"`
}

func (h *Handler) player() PlayerStatus {
	return PlayerStatus{
		State:      h.session.PlayerState().String(),
		Volume:     h.session.Volume(),
		Permission: h.session.AutoplayPermission().String(),
		Current:    h.session.Current(),
		QueueLen:   len(h.session.Queue()),
	}
}

func (h *Handler) talkgroup(id int64) TalkgroupStatus {
	return TalkgroupStatus{ID: id, Subscribed: h.session.IsSubscribed(id), Pending: h.session.IsPending(id)}
}

// Calls

func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, h.session.Calls())
}

func (h *Handler) PlayCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.session.PlayCall(id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("call_id", id).Msg("Play call requested")
	respondSuccess(w, r, h.player())
}

// Queue

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, h.session.Queue())
}

func (h *Handler) EnqueueCall(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Enqueue(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, h.session.Queue())
}

func (h *Handler) MoveToFront(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.session.MoveToFront(id) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "call is not queued", nil)
		return
	}
	respondSuccess(w, r, h.session.Queue())
}

func (h *Handler) RemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.session.RemoveFromQueue(id) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "call is not queued", nil)
		return
	}
	respondSuccess(w, r, h.session.Queue())
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	h.session.ClearQueue()
	respondSuccess(w, r, h.session.Queue())
}

// Player

func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, h.player())
}

func (h *Handler) TogglePlayer(w http.ResponseWriter, r *http.Request) {
	state := h.session.TogglePlayerState()
	logging.Ctx(r.Context()).Info().Str("state", state.String()).Msg("Player toggled")
	respondSuccess(w, r, h.player())
}

func (h *Handler) SkipCurrent(w http.ResponseWriter, r *http.Request) {
	h.session.Skip()
	respondSuccess(w, r, h.player())
}

func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.session.SetVolume(*req.Volume)
	respondSuccess(w, r, h.player())
}

// Talkgroups

func (h *Handler) ListTalkgroups(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, h.session.Subscriptions())
}

func (h *Handler) SubscribeTalkgroup(w http.ResponseWriter, r *http.Request) {
	id, ok := talkgroupParam(w, r)
	if !ok {
		return
	}
	if err := h.session.Subscribe(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, h.talkgroup(id))
}

func (h *Handler) UnsubscribeTalkgroup(w http.ResponseWriter, r *http.Request) {
	id, ok := talkgroupParam(w, r)
	if !ok {
		return
	}
	if err := h.session.Unsubscribe(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, h.talkgroup(id))
}

func (h *Handler) ToggleTalkgroup(w http.ResponseWriter, r *http.Request) {
	id, ok := talkgroupParam(w, r)
	if !ok {
		return
	}
	if _, err := h.session.Toggle(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, r, h.talkgroup(id))
}
