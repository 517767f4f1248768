package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/control"
	"github.com/KevinKickass/VibeChessCore/internal/dispatch"
	"github.com/google/uuid"
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
		// Board clients are phones and tablets on the local network.
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id       uuid.UUID
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	logger   *zap.Logger
	username string
}

type authMessage struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

// authenticate runs the handshake before the client is registered. It is
// the only writer on the connection at that point.
func (c *Client) authenticate() bool {
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var msg authMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.logger.Warn("WebSocket auth read failed", zap.Error(err))
		c.authFailed("First message must be authentication")
		return false
	}
	if msg.Type != MessageTypeAuth || msg.Token == "" {
		c.authFailed("First message must be authentication")
		return false
	}

	claims, err := c.hub.opts.Auth.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		c.authFailed("Invalid or expired token")
		return false
	}

	c.username = claims.Username
	c.conn.SetReadDeadline(time.Time{})
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(NewMessage(MessageTypeAuthSuccess, map[string]string{"username": claims.Username})); err != nil {
		return false
	}
	c.logger.Info("WebSocket client authenticated", zap.String("username", claims.Username))
	return true
}

func (c *Client) authFailed(reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": reason}))
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)

	if c.hub.opts.Auth != nil && !c.authenticate() {
		return
	}

	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		return
	}
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	go c.writePump()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage submits every line of a text frame as a command line.
func (c *Client) handleMessage(data []byte) {
	if c.hub.opts.Intake == nil {
		c.logger.Debug("Ignoring message on broadcast-only hub")
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !c.hub.opts.Intake.Submit(control.Line{Text: line, Source: control.SourceWireless}) {
			c.logger.Warn("Inbox full, line rejected", zap.String("line", line))
			c.hub.reply(c, []byte(dispatch.BusyError().String()))
		}
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	id := uuid.New()
	client := &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger.With(zap.String("client_id", id.String())), // <- Logger vom Hub übernehmen
	}

	go client.readPump()
}
