// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/callstream/internal/channel"
)

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status      string  `json:"status"` // "healthy" or "degraded"
	Version     string  `json:"version"`
	Connection  string  `json:"connection"`
	Player      string  `json:"player"`
	Autoplay    string  `json:"autoplay"`
	Calls       int     `json:"calls"`
	QueueLength int     `json:"queue_length"`
	Talkgroups  int     `json:"talkgroups"`
	UIClients   int     `json:"ui_clients"`
	Uptime      float64 `json:"uptime_seconds"`
}

// Health reports the session's state. A client that is not connected to
// the feed is degraded but still answers 200: it keeps reconnecting on its
// own and the player keeps working from the local queue.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	conn := h.session.ConnectionState()
	status := "healthy"
	if conn != channel.StateConnected {
		status = "degraded"
	}
	respondSuccess(w, r, HealthStatus{
		Status:      status,
		Version:     h.version,
		Connection:  conn.String(),
		Player:      h.session.PlayerState().String(),
		Autoplay:    h.session.AutoplayPermission().String(),
		Calls:       len(h.session.Calls()),
		QueueLength: len(h.session.Queue()),
		Talkgroups:  len(h.session.Subscriptions().Subscribed),
		UIClients:   h.clients(),
		Uptime:      time.Since(h.startTime).Seconds(),
	})
}
