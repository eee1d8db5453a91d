// Package hub fans push frames out to dashboard WebSocket connections.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/expertdesk/livesync/internal/domain"
	"github.com/expertdesk/livesync/internal/identity"
)

const defaultWriteTimeout = 5 * time.Second

// Hub manages active WebSocket connections for users. A user may have one
// connection per tab session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn

	allowedOrigin string
	isDev         bool
	writeTimeout  time.Duration
	logger        *slog.Logger
}

// New creates a hub. In development any origin is accepted.
func New(allowedOrigin string, isDev bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active:        make(map[string]map[string]*websocket.Conn),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		writeTimeout:  defaultWriteTimeout,
		logger:        logger,
	}
}

// Connections returns how many sessions userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Register adds a new WebSocket connection for a user/session, replacing
// and closing any previous connection for the same session.
func (h *Hub) Register(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	h.active[userID][sessionID] = conn
	h.logger.Info("Push session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a WebSocket connection for a user/session. A stale
// connection that has already been replaced is ignored.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, userID)
			}
			h.logger.Info("Push session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseUser terminates all active sessions for a user and returns how
// many were closed. Dashboards see a normal closure and reconnect.
func (h *Hub) CloseUser(userID string) int {
	h.mu.Lock()
	sessions := h.active[userID]
	delete(h.active, userID)
	h.mu.Unlock()

	for sid, conn := range sessions {
		if err := conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
			h.logger.Debug("Failed to close push session", "error", err, "user_id", userID, "session_id", sid)
		}
		h.logger.Info("Push session closed", "user_id", userID, "session_id", sid)
	}
	return len(sessions)
}

// Publish writes frame to every session of userID and returns how many
// writes succeeded. A user with no open session simply misses the frame.
func (h *Hub) Publish(ctx context.Context, userID string, frame []byte) int {
	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.active[userID]))
	for sid, c := range h.active[userID] {
		conns[sid] = c
	}
	h.mu.RUnlock()

	delivered := 0
	for sid, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			h.logger.Debug("Push write failed", "error", err, "user_id", userID, "session_id", sid)
			continue
		}
		delivered++
	}
	return delivered
}

// PublishJSON marshals v and publishes it to userID.
func (h *Hub) PublishJSON(ctx context.Context, userID string, v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.Publish(ctx, userID, data), nil
}

// clientMessage is the only inbound frame a dashboard sends.
type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades /ws/{role}/ requests. It expects identity.Middleware
// to have resolved the user.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	role, ok := domain.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		http.Error(w, `{"error":"unknown role"}`, http.StatusNotFound)
		return
	}
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "role", role, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.Register(userID, sessionID, ws)
	defer h.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID)
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
