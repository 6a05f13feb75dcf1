// Package websocket delivers realtime events to connected users.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Frame types exchanged with clients
const (
	TypeGynecologistMessage = "gynecologist_message"
	TypeRead                = "read"
	TypeError               = "error"
)

// Hub tracks the open connections of every user. A user may be connected
// from several devices at once.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	ConnectionID   string
	MessageHandler func(*Client, Frame)

	// guarded by Hub.mu
	closed bool
}

// Frame is an incoming client frame.
type Frame struct {
	Type    string `json:"type"`
	PeerID  string `json:"peer_id,omitempty"`
	Content string `json:"content,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, conns := range h.clients {
				for client := range conns {
					client.closeSend()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "user_id", client.UserID, "connection_id", client.ConnectionID)

		case client := <-h.unregister:
			h.remove(client)
			slog.Info("Client unregistered", "user_id", client.UserID, "connection_id", client.ConnectionID)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[client.UserID]
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	client.closeSend()
	if len(conns) == 0 {
		delete(h.clients, client.UserID)
	}
}

// Online reports whether userID has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// SendToUser encodes payload once and queues it on every connection of
// userID. Slow connections whose buffer is full are dropped. It returns the
// number of connections reached.
func (h *Hub) SendToUser(userID string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal websocket payload", "error", err)
		return 0
	}

	var slow []*Client
	sent := 0

	h.mu.RLock()
	for client := range h.clients[userID] {
		select {
		case client.Send <- data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		slog.Warn("Dropping slow websocket client", "user_id", userID, "connection_id", client.ConnectionID)
		h.remove(client)
	}
	return sent
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string, handler func(*Client, Frame)) *Client {
	client := &Client{
		Hub:            h,
		Conn:           conn,
		Send:           make(chan []byte, sendBuffer),
		UserID:         userID,
		ConnectionID:   uuid.New().String(),
		MessageHandler: handler,
	}

	select {
	case h.register <- client:
	case <-h.done:
		h.mu.Lock()
		client.closeSend()
		h.mu.Unlock()
	}
	return client
}

// closeSend closes the outbound queue once. The caller holds h.mu.
func (c *Client) closeSend() {
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Reply queues payload on this connection only.
func (c *Client) Reply(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal websocket payload", "error", err)
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "user_id", c.UserID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Failed to unmarshal frame", "error", err, "user_id", c.UserID)
			c.Reply(map[string]string{"type": TypeError, "error": "Invalid message"})
			continue
		}

		if c.MessageHandler != nil {
			c.MessageHandler(c, frame)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
