// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/doufen-org/graveyard/internal/logging"
	"github.com/doufen-org/graveyard/internal/metrics"
	"github.com/doufen-org/graveyard/internal/models"
)

// Hub fans worker progress out to every connected UI subscriber. It
// implements the scheduler's Broadcaster interface, so the scheduler
// never learns about connections; it just hands progress here.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan models.Progress
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an idle hub. Start RunWithContext before registering
// clients.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan models.Progress, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Broadcast queues a progress event for fanout. Never blocks: when the
// channel is full the event is dropped, which is acceptable for a live
// progress feed.
func (h *Hub) Broadcast(p models.Progress) {
	select {
	case h.broadcast <- p:
	default:
		logging.Warn().Str("event", p.Event).Msg("broadcast channel full, dropping progress")
	}
}

// RunWithContext pumps registrations and broadcasts until the context
// is canceled, then closes every client. Designed to run under suture
// supervision.
//
// Lifecycle events are drained before broadcasts so client state is
// settled before a message fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case p := <-h.broadcast:
			h.fanout(p)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// fanout delivers to clients in connection order. A client whose send
// buffer is full is dropped; a UI that cannot keep up with a progress
// feed is better off reconnecting than backpressuring the scheduler.
func (h *Hub) fanout(p models.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var stalled []*Client
	for _, client := range clients {
		select {
		case client.send <- p:
		default:
			stalled = append(stalled, client)
		}
	}
	for _, client := range stalled {
		close(client.send)
		delete(h.clients, client)
	}
	if len(stalled) > 0 {
		metrics.WebsocketClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(stalled)).Msg("dropped stalled websocket clients")
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
