package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/download"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

const broadcastBuffer = 64

// ConnectionGauge tracks open connections
type ConnectionGauge interface {
	IncWSConnections()
	DecWSConnections()
}

// Hub maintains the set of active clients and broadcasts job events to them.
type Hub struct {
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Encoded events waiting to be fanned out
	broadcast chan []byte

	// Closed when Run returns
	done chan struct{}

	gauge ConnectionGauge
	log   *logger.Logger
	mu    sync.RWMutex
}

// NewHub creates a new Hub instance. gauge may be nil.
func NewHub(gauge ConnectionGauge) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		gauge:      gauge,
		log:        logger.Default().WithComponent("websocket"),
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.gauge != nil {
				h.gauge.IncWSConnections()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, close the connection
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with mu held
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if h.gauge != nil {
		h.gauge.DecWSConnections()
	}
}

// Notify queues a job event for broadcast. It never blocks the queue: when
// the buffer is full the event is dropped.
func (h *Hub) Notify(ctx context.Context, e download.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error(ctx, "failed to encode job event", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn(ctx, "websocket broadcast buffer full, dropping event", map[string]interface{}{
			"event":  string(e.Type),
			"job_id": e.Job.ID,
		})
	}
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
