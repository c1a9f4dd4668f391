package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/middleware"
	"github.com/onnwee/resortpay/internal/notify"
)

// wsReadDeadline closes connections whose client stops answering pings.
const (
	wsReadDeadline = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

// NotificationHandlers streams notifications to operator dashboards.
type NotificationHandlers struct {
	hub      *notify.Hub
	audit    audit.Repository
	upgrader websocket.Upgrader
}

// NewNotificationHandlers creates a new NotificationHandlers instance.
// checkOrigin decides which browser origins may open a stream.
func NewNotificationHandlers(hub *notify.Hub, auditRepo audit.Repository, checkOrigin func(*http.Request) bool) *NotificationHandlers {
	return &NotificationHandlers{
		hub:   hub,
		audit: auditRepo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Subscribe upgrades the request and pushes every notification until the
// client disconnects.
// GET /ws/notifications
func (h *NotificationHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operatorID := middleware.GetOperatorID(ctx)

	if err := audit.LogAccessFromRequest(r, h.audit, audit.EntityNotificationStream, operatorID, audit.ActionSubscribeNotifications, audit.OutcomeSuccess); err != nil {
		slog.ErrorContext(ctx, "failed to record operator access", "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record access")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		slog.WarnContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"operator_id", operatorID,
		)
		return
	}

	h.hub.Subscribe(operatorID, conn)
	slog.InfoContext(ctx, "operator subscribed to notifications", "operator_id", operatorID)

	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "operator unsubscribed from notifications", "operator_id", operatorID)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})
	go h.ping(conn, done)

	// Clients do not send messages; reading detects disconnects and handles pongs.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"operator_id", operatorID,
				)
			}
			return
		}
	}
}

// ping keeps idle connections alive through proxies.
func (h *NotificationHandlers) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// WriteControl is safe alongside the hub's writer.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
