package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const hubWriteTimeout = 5 * time.Second

// Hub manages operator dashboard WebSocket connections and pushes notifications to them.
// It is also a Channel, so the Dispatcher delivers to it like any other medium.
type Hub struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]string // conn -> operator id
	metrics     *Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]string),
		metrics:     metrics,
	}
}

// Subscribe registers a WebSocket connection for an operator.
func (h *Hub) Subscribe(operatorID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn] = operatorID
	h.reportLocked()
}

// Unsubscribe removes a WebSocket connection.
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.connections, conn)
	h.reportLocked()
}

func (h *Hub) reportLocked() {
	if h.metrics != nil {
		h.metrics.SetHubConnections(len(h.connections))
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Name implements Channel.
func (h *Hub) Name() string { return ChannelWebSocket }

// Send implements Channel by broadcasting n. With no clients connected it is skipped.
func (h *Hub) Send(ctx context.Context, n Notification) (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification: %w", err)
	}

	// Writes are serialised; a websocket.Conn supports one concurrent writer.
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.connections) == 0 {
		return "", ErrSkipped
	}

	var failed int
	for conn, operatorID := range h.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			failed++
			slog.Warn("failed to send message to websocket client",
				"error", err,
				"operator_id", operatorID,
			)
			// Connection will be cleaned up when client disconnects
		}
	}

	recipient := fmt.Sprintf("%d clients", len(h.connections))
	if failed == len(h.connections) {
		return recipient, fmt.Errorf("all %d websocket writes failed", failed)
	}
	return recipient, nil
}
