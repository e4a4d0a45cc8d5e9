// Package hub tracks connected viewer sessions and fans price updates out to
// all of them.
package hub

import (
	"sync"

	"investflow/logger"
)

// Client is one live viewer session. Send must be safe for concurrent use;
// implementations report a closed transport through Open.
type Client interface {
	ID() string
	Send(v interface{}) error
	Open() bool
	Close() error
}

// Hub registers clients and broadcasts to every open one. A send failure for
// one client never affects the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Client
	log     *logger.Entry
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]Client),
		log:     logger.GetLogger().WithComponent("client_hub"),
	}
}

// Add registers a client and sends it the initialization message.
func (h *Hub) Add(c Client, init interface{}) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	total := len(h.clients)
	h.mu.Unlock()

	if err := c.Send(init); err != nil {
		h.log.WithError(err).WithField("client_id", c.ID()).Warn("failed to send init message")
	}

	h.log.WithFields(logger.Fields{"client_id": c.ID(), "clients": total}).Info("client connected")
}

// Remove deregisters a client. Removing an unknown client is a no-op.
func (h *Hub) Remove(c Client) {
	h.mu.Lock()
	_, known := h.clients[c.ID()]
	delete(h.clients, c.ID())
	total := len(h.clients)
	h.mu.Unlock()

	if known {
		h.log.WithFields(logger.Fields{"client_id": c.ID(), "clients": total}).Info("client disconnected")
	}
}

// Broadcast sends v to every registered client whose transport is still
// open. Closed-but-not-yet-deregistered clients are skipped.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.RLock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Open() {
			continue
		}
		if err := c.Send(v); err != nil {
			h.log.WithError(err).WithField("client_id", c.ID()).Debug("broadcast send failed")
		}
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes and deregisters every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]Client)
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			h.log.WithError(err).WithField("client_id", c.ID()).Debug("close failed")
		}
	}
}
