// Package ws owns the websocket transport: one Client per connection with
// read/write pumps, and a Hub that routes outbound envelopes by connection id.
package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/pkg/wire"
)

// Handler receives decoded inbound frames and disconnect notices. The
// coordinator implements it.
type Handler interface {
	HandleMessage(connID string, env wire.Envelope)
	HandleDisconnect(connID string)
}

// Hub tracks live connections keyed by connection id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	handler Handler
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// SetHandler wires the inbound dispatcher. Must be called before Serve.
func (h *Hub) SetHandler(handler Handler) { h.handler = handler }

// Serve registers the connection and runs its pumps. It blocks until the
// connection closes, then unregisters and notifies the handler.
func (h *Hub) Serve(conn *websocket.Conn) {
	client := newClient(h, conn, uuid.NewString())

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	obslog.L().Info("ws_connect", zap.String("conn_id", client.id))

	go client.writePump()
	client.readPump()

	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()

	if h.handler != nil {
		h.handler.HandleDisconnect(client.id)
	}
	obslog.L().Info("ws_disconnect", zap.String("conn_id", client.id))
}

// SendTo queues an envelope for one connection. Returns false when the
// connection is gone or its queue is full.
func (h *Hub) SendTo(connID string, env wire.Envelope) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.enqueue(env)
}

// SendError queues a dedicated error notification.
func (h *Hub) SendError(connID, message string) {
	env, err := wire.NewEnvelope(wire.TypeError, wire.ErrorMessage{Message: message})
	if err != nil {
		return
	}
	h.SendTo(connID, env)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dispatch(connID string, env wire.Envelope) {
	if h.handler != nil {
		h.handler.HandleMessage(connID, env)
	}
}
