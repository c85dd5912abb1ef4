package websocket

import (
	"context"
	"sync"

	"squadlink/internal/metrics"
)

// Hub tracks the live engine connections of this node.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// viewers counts connections per viewer
	viewers map[string]int

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		viewers:    make(map[string]int),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. Clients still connected when ctx ends have
// their send channels closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			h.viewers = make(map[string]int)
			h.mu.Unlock()
			metrics.OnlineViewers.Set(0)
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.closeSend()
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetViewerCount returns the number of distinct connected viewers
func (h *Hub) GetViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.viewers[client.ViewerID]++
	n := len(h.viewers)
	h.mu.Unlock()
	metrics.OnlineViewers.Set(float64(n))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		if h.viewers[client.ViewerID]--; h.viewers[client.ViewerID] <= 0 {
			delete(h.viewers, client.ViewerID)
		}
	}
	n := len(h.viewers)
	h.mu.Unlock()

	client.closeSend()
	metrics.OnlineViewers.Set(float64(n))
}
