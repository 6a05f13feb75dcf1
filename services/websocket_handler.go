package services

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	ws "github.com/maternify/backend/websocket"
)

// WebSocketHandler upgrades authenticated requests and attaches the
// connection to the hub.
type WebSocketHandler struct {
	hub      *ws.Hub
	chat     *GynecologistService
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, chat *GynecologistService, allowedOrigins string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:  hub,
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, allowedOrigins)
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := h.hub.RegisterClient(conn, user.ID, h.chat.HandleFrame)
	slog.Info("WebSocket connection established", "user_id", user.ID, "connection_id", client.ConnectionID)

	go client.WritePump()
	client.ReadPump()
}

// CheckOrigin accepts origins listed in the comma separated allowedOrigins.
// "*" accepts any origin; an empty list rejects every browser origin.
func CheckOrigin(r *http.Request, allowedOrigins string) bool {
	origin := r.Header.Get("Origin")

	if allowedOrigins == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOrigins)
	return false
}
