package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/VibeChessCore/internal/auth"
	"github.com/KevinKickass/VibeChessCore/internal/control"
	"go.uber.org/zap"
)

// Submitter accepts inbound command lines.
type Submitter interface {
	Submit(line control.Line) bool
}

// TokenValidator checks the token of the first client message.
type TokenValidator interface {
	ValidateToken(token string) (*auth.JWTClaims, error)
}

// Options configure a Hub. All fields are optional.
type Options struct {
	// Intake receives text lines from clients. A hub without intake is
	// broadcast only.
	Intake Submitter
	// Auth requires an auth message before a client is registered.
	Auth TokenValidator
	// OnClientsChanged is called from the hub goroutine with the new count.
	OnClientsChanged func(count int)
}

type envelope struct {
	client *Client
	data   []byte
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	name string

	// Registered clients
	clients map[*Client]bool

	// Outbound frames to broadcast
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Replies to a single client
	unicast chan envelope

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *zap.Logger

	opts Options
}

// NewHub creates a new Hub instance
func NewHub(name string, logger *zap.Logger, opts Options) *Hub {
	return &Hub{
		name:       name,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		unicast:    make(chan envelope, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.With(zap.String("hub", name)),
		opts:       opts,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.changed()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", h.ClientCount()))
			h.changed()

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if ok {
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", h.ClientCount()))
				h.changed()
			}

		case env := <-h.unicast:
			h.mu.RLock()
			if h.clients[env.client] {
				select {
				case env.client.send <- env.data:
				default:
					h.logger.Warn("Client send buffer full, reply dropped",
						zap.String("client_id", env.client.id.String()))
				}
			}
			h.mu.RUnlock()

		case data := <-h.broadcast:
			h.mu.Lock()
			dropped := false
			for client := range h.clients {
				select {
				case client.send <- data:
					// Message sent successfully
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					dropped = true
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			h.mu.Unlock()
			if dropped {
				h.changed()
			}
		}
	}
}

func (h *Hub) changed() {
	if h.opts.OnClientsChanged != nil {
		h.opts.OnClientsChanged(h.ClientCount())
	}
}

// Send broadcasts a raw text line. With no clients connected the line is
// dropped silently.
func (h *Hub) Send(line string) error {
	if h.ClientCount() == 0 {
		return nil
	}
	h.queue([]byte(line))
	return nil
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message",
			zap.String("message_type", string(msg.Type)),
			zap.Error(err))
		return
	}
	h.queue(data)
}

// Publish broadcasts an event as a JSON message.
func (h *Hub) Publish(kind string, data any) {
	h.Broadcast(NewMessage(MessageType(kind), data))
}

func (h *Hub) queue(data []byte) {
	select {
	case h.broadcast <- data:
		// Message queued for broadcast
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped")
	}
}

// reply queues data for one registered client.
func (h *Hub) reply(c *Client, data []byte) {
	select {
	case h.unicast <- envelope{client: c, data: data}:
	case <-h.done:
	default:
		h.logger.Warn("Hub reply channel full, message dropped")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
