// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package api exposes the local control surface over HTTP.
//
// The server binds loopback by default and carries no authentication;
// it drives a single-operator personal archive. Routes are built with
// chi, rate limited with httprate, and answer JSON. /ws upgrades to the
// live progress feed.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/doufen-org/graveyard/internal/scheduler"
	"github.com/doufen-org/graveyard/internal/store"
	"github.com/doufen-org/graveyard/internal/websocket"
)

// Handler bundles the collaborators behind the HTTP surface.
type Handler struct {
	Store *store.Store
	Sched *scheduler.Scheduler
	Hub   *websocket.Hub
	Log   zerolog.Logger

	upgrader gorillaws.Upgrader
}

// NewHandler wires the control surface.
func NewHandler(s *store.Store, sched *scheduler.Scheduler, hub *websocket.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		Store: s,
		Sched: sched,
		Hub:   hub,
		Log:   log,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local-only server; the UI is served from the same origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.requestLog)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", h.WebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Post("/tasks", h.AddTasks)

		r.Get("/workers", h.Workers)
		r.Post("/workers/start", h.StartWorkers)
		r.Post("/workers/stop", h.StopWorkers)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.PutSettings)

		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts", h.CreateAccount)
		r.Post("/accounts/{id}/activate", h.ActivateAccount)
	})

	return r
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// WebSocket upgrades the connection and subscribes it to the progress
// feed.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		respondError(w, http.StatusServiceUnavailable, "progress feed not running")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.Hub, conn)
	h.Hub.Register <- client
	client.Start()
}

// Health reports liveness plus a quick database probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
