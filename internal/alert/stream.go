package alert

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// ClientMessage is a control frame sent by a stream client.
type ClientMessage struct {
	Type      string `json:"type"`
	StationID string `json:"stationId"`
}

// ServerMessage is a control reply pushed to a stream client. Alerts are
// not wrapped: each alert frame is the FraudCase JSON itself.
type ServerMessage struct {
	Type      string    `json:"type"`
	StationID string    `json:"stationId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream serves the alert WebSocket endpoint. Each connection may subscribe
// to any number of station keys, "*" for all.
type Stream struct {
	dispatcher *Dispatcher
	buffer     int
	upgrader   websocket.Upgrader
}

// NewStream creates a WebSocket handler backed by d. buffer bounds the
// per-client outbound queue; cases are dropped for a client whose queue is full.
func NewStream(d *Dispatcher, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		dispatcher: d,
		buffer:     buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	stream *Stream

	mu     sync.Mutex
	subs   map[string]func()
	closed bool
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, s.buffer),
		stream: s,
		subs:   make(map[string]func()),
	}
	slog.Debug("alert stream connected", "client_id", c.id, "remote", r.RemoteAddr)

	c.enqueue(ServerMessage{Type: "connected", Timestamp: time.Now().UTC()})

	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("alert stream read error", "client_id", c.id, "error", err)
			}
			return
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg ClientMessage) {
	key := msg.StationID
	if key == "" {
		key = Global
	}

	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		if _, ok := c.subs[key]; !ok && !c.closed {
			c.subs[key] = c.stream.dispatcher.Subscribe(key, c.deliver)
		}
		c.mu.Unlock()
		c.enqueue(ServerMessage{Type: "subscribed", StationID: key, Timestamp: time.Now().UTC()})
	case "unsubscribe":
		c.mu.Lock()
		if unsub, ok := c.subs[key]; ok {
			unsub()
			delete(c.subs, key)
		}
		c.mu.Unlock()
		c.enqueue(ServerMessage{Type: "unsubscribed", StationID: key, Timestamp: time.Now().UTC()})
	default:
		c.enqueue(ServerMessage{Type: "error", Error: "unknown message type " + msg.Type, Timestamp: time.Now().UTC()})
	}
}

func (c *client) deliver(fc *domain.FraudCase) {
	data, err := json.Marshal(fc)
	if err != nil {
		slog.Error("failed to encode alert", "client_id", c.id, "case_id", fc.ID, "error", err)
		return
	}
	c.push(data, "alert")
}

func (c *client) enqueue(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode stream message", "client_id", c.id, "error", err)
		return
	}
	c.push(data, msg.Type)
}

func (c *client) push(data []byte, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("alert stream client too slow, dropping message", "client_id", c.id, "type", kind)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	slog.Debug("alert stream disconnected", "client_id", c.id)
}
