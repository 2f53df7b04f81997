/*
 * backend/subscription/handler.go
 *
 * Websocket endpoint for subscribers. Each connection gets a read loop for
 * commands and a write loop draining the client's outgoing buffer.
 */

package subscription

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/spyglass-view/spyglass/backend/config"
)

type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// Handler upgrades subscriber connections and binds them to the manager.
type Handler struct {
	manager  *Manager
	logger   Logger
	authFn   func() (token string, required bool)
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint. authFn is consulted per
// connection so token reloads apply without a restart; nil disables auth.
func NewHandler(manager *Manager, logger Logger, authFn func() (token string, required bool)) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("subscription manager is required")
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{
		manager: manager,
		logger:  logger,
		authFn:  authFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.SubscriberReadBufferSize,
			WriteBufferSize: config.SubscriberWriteBufferSize,
			// Prevent slow or stalled websocket upgrades from hanging indefinitely.
			HandshakeTimeout: config.SubscriberHandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}, nil
}

// ServeHTTP upgrades the connection and runs the subscriber session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		h.logger.Warn(fmt.Sprintf("subscriber from %s rejected: bad token", r.RemoteAddr), "Subscription")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("subscriber upgrade failed: %v", err), "Subscription")
		return
	}

	h.runClient(r.Context(), conn)
}

// authorized checks the token query parameter against the configured one.
// Browsers cannot set headers on websocket upgrades, so the token rides in
// the URL.
func (h *Handler) authorized(r *http.Request) bool {
	if h.authFn == nil {
		return true
	}
	token, required := h.authFn()
	if !required {
		return true
	}
	presented := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

// runClient drives one subscriber connection to completion.
func (h *Handler) runClient(ctx context.Context, conn wsConn) {
	c := newClient(uuid.NewString())
	h.manager.register(c)
	defer h.manager.unregister(c)
	defer func() { _ = conn.Close() }()

	go h.writeLoop(ctx, conn, c)
	h.readLoop(conn, c)
	c.close()
}

// Normal tab closes end the websocket without a close status or after we
// send a close.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

func (h *Handler) readLoop(conn wsConn, c *client) {
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				h.logger.Warn(fmt.Sprintf("subscriber %s read error: %v", c.id, err), "Subscription")
			}
			return
		}
		h.manager.handleMessage(c, msg)
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn wsConn, c *client) {
	for {
		select {
		case <-ctx.Done():
			c.close()
			return
		case <-c.done:
			return
		case msg := <-c.outgoing:
			if err := conn.SetWriteDeadline(time.Now().Add(config.SubscriberWriteTimeout)); err != nil {
				h.logger.Warn(fmt.Sprintf("subscriber %s write deadline failed: %v", c.id, err), "Subscription")
			}
			if err := conn.WriteJSON(msg); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Warn(fmt.Sprintf("subscriber %s write error: %v", c.id, err), "Subscription")
				}
				c.close()
				_ = conn.Close()
				return
			}
		}
	}
}
