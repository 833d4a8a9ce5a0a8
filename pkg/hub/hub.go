package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
)

// Hub tracks connected clients and broadcasts updates to them. One goroutine
// (Run) owns the client set; everything else talks to it over channels.
type Hub struct {
	name string
	log  *slog.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	count   int
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// New creates a hub.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		log:        hlog.For("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client's queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.setCount()
			h.log.Info("client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount()
			h.log.Info("client disconnected", "clients", len(h.clients))

		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
					h.sent.Add(1)
				default:
					// slow client
					close(c.send)
					delete(h.clients, c)
					h.log.Warn("dropped slow client")
				}
			}
			h.setCount()
		}
	}
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.setCount()
}

// Broadcast queues data for every client. It reports false when the queue is
// full and the update was dropped.
func (h *Hub) Broadcast(data []byte) bool {
	select {
	case h.broadcast <- data:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Publish encodes and broadcasts one update.
func (h *Hub) Publish(kind Kind, t time.Time, data any) error {
	msg, err := NewUpdate(kind, t, data)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns the number of updates discarded on a full queue.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Sent returns the number of per-client deliveries queued.
func (h *Hub) Sent() uint64 { return h.sent.Load() }

// Queued returns the number of updates waiting to be broadcast.
func (h *Hub) Queued() int { return len(h.broadcast) }
