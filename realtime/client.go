package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Conn is the part of *websocket.Conn the pumps use.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket subscriber of a room.
type Client struct {
	hub      *Hub
	conn     Conn
	send     chan []byte
	room     string
	identity models.Identity
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Serve registers conn in room on behalf of identity and starts its pumps.
// It returns immediately; the pumps exit when the connection drops or the
// hub stops. A stopped hub closes conn and returns nil.
func (h *Hub) Serve(conn Conn, room string, identity models.Identity) *Client {
	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		room:     room,
		identity: identity,
		logger:   h.logger.With(slog.String("room", room), slog.Int("user_id", identity.ID)),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return client
}

func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump accepts only typing broadcasts from the client. Row changes are
// produced by the HTTP write path, never by peers.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.logger.Debug("client readPump closed")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", slog.Any("error", err))
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(message []byte) {
	var env models.WSEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug("ignoring malformed frame", slog.Any("error", err))
		return
	}
	if env.Type != models.EnvelopeBroadcast {
		c.logger.Debug("ignoring client frame", slog.String("type", env.Type))
		return
	}

	var ev models.BroadcastEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.Event != models.BroadcastTyping {
		return
	}
	// Sender identity comes from the authenticated connection.
	ev.UserID = c.identity.ID
	ev.DisplayName = c.identity.DisplayName
	c.hub.PublishBroadcast(c.room, ev, c)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("client writePump closed")
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("failed to write frame", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", slog.Any("error", err))
				return
			}
		}
	}
}
