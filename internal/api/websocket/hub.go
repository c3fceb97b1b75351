package websocket

import (
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stopChan chan struct{}
	stopOnce sync.Once

	// Mutex for thread-safe operations
	mu sync.RWMutex

	logger      *zap.Logger
	authService *auth.Service

	// Signal subscriptions per attached board
	subsMu sync.Mutex
	subs   map[uuid.UUID][]subscriptionRef
}

type subscriptionRef struct {
	signal *signal.DataSignal
	id     uuid.UUID
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, authService *auth.Service) *Hub {
	return &Hub{
		broadcast:   make(chan Message, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		stopChan:    make(chan struct{}),
		clients:     make(map[*Client]bool),
		logger:      logger,
		authService: authService,
		subs:        make(map[uuid.UUID][]subscriptionRef),
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", h.GetClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.conn.RemoteAddr().String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- data:
					// Message sent successfully
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.conn.RemoteAddr().String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the event loop and closes all client send channels
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Broadcast sends a message to all interested clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
		// Message queued for broadcast
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// AttachBoard forwards every value published by the board's root signals.
// Component values are part of the root message fields.
func (h *Hub) AttachBoard(b *board.Board) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	if _, exists := h.subs[b.ID]; exists {
		return
	}

	var refs []subscriptionRef
	for _, s := range b.Signals() {
		id := s.Subscribe(func(d signal.Data) {
			if h.GetClientCount() == 0 {
				return
			}
			h.Broadcast(NewSignalMessage(b.Name, d))
		})
		refs = append(refs, subscriptionRef{signal: s, id: id})
	}
	h.subs[b.ID] = refs
}

// DetachBoard removes the subscriptions added by AttachBoard
func (h *Hub) DetachBoard(b *board.Board) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	for _, ref := range h.subs[b.ID] {
		ref.signal.Unsubscribe(ref.id)
	}
	delete(h.subs, b.ID)
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
