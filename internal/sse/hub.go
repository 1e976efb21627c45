package sse

import (
	"fmt"
	"log/slog"
	"sync"
)

// Client represents a connected SSE browser client.
type Client struct {
	ID     string
	Events chan []byte // outbound event data
}

// Hub manages SSE client connections and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}

	// Latest payload per cached event, replayed to new clients.
	cacheMu sync.RWMutex
	cache   map[string][]byte
	order   []string
}

// NewHub creates a new SSE hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cache:      make(map[string][]byte),
	}
}

// Run starts the hub's event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("sse client connected", "id", client.ID, "total", h.Count())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Events)
			}
			h.mu.Unlock()
			slog.Info("sse client disconnected", "id", client.ID, "total", h.Count())

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Events <- data:
				default:
					// Client buffer full, drop rather than block
					slog.Warn("sse client buffer full, dropping message", "id", client.ID)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Events)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a client to the hub.
// Uses a select so that sends after Close() don't block forever.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
// Uses a select so that sends after Close() don't block forever.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends a named SSE event to all connected clients.
// Uses a select so that sends after Close() don't block forever.
func (h *Hub) Broadcast(event string, data []byte) {
	h.send(format(event, data))
}

// Publish broadcasts an event and remembers it under key so that clients
// connecting later receive the latest value first.
func (h *Hub) Publish(key, event string, data []byte) {
	msg := format(event, data)
	h.cacheMu.Lock()
	if _, ok := h.cache[key]; !ok {
		h.order = append(h.order, key)
	}
	h.cache[key] = msg
	h.cacheMu.Unlock()
	h.send(msg)
}

// Replay returns the cached events in first-published order.
func (h *Hub) Replay() [][]byte {
	h.cacheMu.RLock()
	defer h.cacheMu.RUnlock()
	out := make([][]byte, 0, len(h.order))
	for _, k := range h.order {
		out = append(out, h.cache[k])
	}
	return out
}

func format(event string, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data)
}

func (h *Hub) send(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the hub.
func (h *Hub) Close() {
	close(h.done)
}
