package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	logger        *zap.Logger
	authenticated bool
	registered    bool
	permissions   []auth.Permission

	// board name -> headers; an empty header set selects every signal
	subMu         sync.RWMutex
	subscriptions map[string]map[string]bool
}

// wants reports whether the message passes the client's subscriptions.
// Non-signal messages go to every client.
func (c *Client) wants(msg Message) bool {
	if msg.Type != MessageTypeSignalData {
		return true
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()

	headers, ok := c.subscriptions[msg.board]
	if !ok {
		return false
	}
	return len(headers) == 0 || headers[msg.header]
}

func (c *Client) subscribe(board string, headers []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	set := c.subscriptions[board]
	if set == nil || len(headers) == 0 {
		set = make(map[string]bool)
	}
	for _, h := range headers {
		set[h] = true
	}
	c.subscriptions[board] = set
}

func (c *Client) unsubscribe(board string, headers []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	set, ok := c.subscriptions[board]
	if !ok {
		return
	}
	if len(headers) == 0 {
		delete(c.subscriptions, board)
		return
	}
	for _, h := range headers {
		delete(set, h)
	}
	if len(set) == 0 {
		delete(c.subscriptions, board)
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.registered {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.stopChan:
			}
		} else {
			// never reached the hub, stop the write pump here
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if !c.authenticated {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var msg clientRequest
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
			}
			break
		}

		// First message MUST be authentication
		if !c.authenticated {
			if msg.Type != "auth" {
				c.closeWithReason("First message must be authentication")
				return
			}
			if msg.Token == "" {
				c.closeWithReason("Missing token in auth message")
				return
			}

			id, err := c.hub.authService.ValidateToken(msg.Token)
			if err != nil {
				c.logger.Warn("WebSocket authentication failed",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
				c.closeWithReason("Invalid or expired token")
				return
			}

			c.authenticated = true
			c.permissions = id.Role.Permissions()
			c.conn.SetReadDeadline(time.Time{}) // Remove deadline

			c.reply(MessageTypeAuthSuccess, map[string]interface{}{
				"key":         id.Name,
				"permissions": c.permissions,
			})
			c.logger.Info("WebSocket client authenticated",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
				zap.String("key", id.Name))

			// NOW register to hub (only after auth)
			select {
			case c.hub.register <- c:
				c.registered = true
			case <-c.hub.stopChan:
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

// closeWithReason sends auth_failed directly, the client never reached the
// hub so its write pump is the only reader of send.
func (c *Client) closeWithReason(reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": reason}))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

func (c *Client) reply(msgType MessageType, data interface{}) {
	payload, err := json.Marshal(NewMessage(msgType, data))
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Client send buffer full, reply dropped",
			zap.String("message_type", string(msgType)))
	}
}

func (c *Client) handleMessage(msg clientRequest) {
	c.logger.Debug("Received client message",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.String("type", msg.Type),
		zap.String("board", msg.Board))

	switch msg.Type {
	case "subscribe", "unsubscribe":
		if msg.Board == "" {
			c.reply(MessageTypeError, types.NewErrorResponse("WS_400", "board is required", nil).Error)
			return
		}
		for _, h := range msg.Headers {
			if _, err := types.ParseResponseHeader(h); err != nil {
				c.reply(MessageTypeError, types.NewErrorResponse("WS_400", "invalid header", err.Error()).Error)
				return
			}
		}

		data := map[string]interface{}{"board": msg.Board, "headers": msg.Headers}
		if msg.Type == "subscribe" {
			c.subscribe(msg.Board, msg.Headers)
			c.reply(MessageTypeSubscribed, data)
		} else {
			c.unsubscribe(msg.Board, msg.Headers)
			c.reply(MessageTypeUnsubscribed, data)
		}

	default:
		c.reply(MessageTypeError, types.NewErrorResponse("WS_400", "unknown message type", msg.Type).Error)
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests. With auth enabled the first
// message must be {"type":"auth","token":"..."}.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		logger:        hub.logger,
		subscriptions: make(map[string]map[string]bool),
	}

	if !hub.authService.Enabled() {
		client.authenticated = true
		client.permissions = auth.RoleAdmin.Permissions()
		select {
		case hub.register <- client:
			client.registered = true
		case <-hub.stopChan:
			conn.Close()
			return
		}
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
