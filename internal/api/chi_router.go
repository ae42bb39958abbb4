// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi router. ws serves /api/v1/ws and may be nil when
// the UI hub is disabled.
func NewRouter(h *Handler, mw *ChiMiddleware, ws http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // global so OPTIONS preflight is answered

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	if ws != nil {
		// the upgrade hijacks the connection; keep it out of the metrics wrapper
		r.With(mw.RateLimit()).Get("/api/v1/ws", ws.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics())

		r.Get("/health", h.Health)

		r.Get("/calls", h.ListCalls)
		r.Post("/calls/{id}/play", h.PlayCall)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Delete("/", h.ClearQueue)
			r.Post("/{id}", h.EnqueueCall)
			r.Post("/{id}/front", h.MoveToFront)
			r.Delete("/{id}", h.RemoveFromQueue)
		})

		r.Route("/player", func(r chi.Router) {
			r.Get("/", h.GetPlayer)
			r.Post("/toggle", h.TogglePlayer)
			r.Post("/skip", h.SkipCurrent)
			r.Put("/volume", h.SetVolume)
		})

		r.Route("/talkgroups", func(r chi.Router) {
			r.Get("/", h.ListTalkgroups)
			r.Put("/{id}", h.SubscribeTalkgroup)
			r.Delete("/{id}", h.UnsubscribeTalkgroup)
			r.Post("/{id}/toggle", h.ToggleTalkgroup)
		})
	})

	return r
}
