package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/pkg/wire"
)

const (
	// timeout for a single write to the websocket.
	writeWait = 10 * time.Second

	// maximum wait for a pong before the connection is considered dead.
	pongWait = 60 * time.Second

	// ping cadence; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maximum inbound frame size in bytes.
	maxMessageSize = 65536

	sendQueueSize = 256
)

// Client is one live websocket connection.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		logger: obslog.L().With(zap.String("conn_id", id)),
	}
}

// readPump consumes inbound frames and dispatches them until the connection
// errors or closes.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("ws_set_read_deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("ws_read_error", zap.Error(err))
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("ws_invalid_json", zap.Error(err))
			continue
		}
		if env.Type == "" {
			c.logger.Warn("ws_missing_type")
			continue
		}
		c.hub.dispatch(c.id, env)
	}
}

// writePump drains the send queue and keeps the heartbeat alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("ws_set_write_deadline", zap.Error(err))
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Error("ws_write_error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue marshals the envelope onto the send queue without blocking.
func (c *Client) enqueue(env wire.Envelope) bool {
	raw, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("ws_marshal_error", zap.Error(err))
		return false
	}
	select {
	case c.send <- raw:
		return true
	default:
		c.logger.Warn("ws_send_queue_full", zap.Int("queue_len", len(c.send)))
		return false
	}
}
